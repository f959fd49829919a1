package cli

import (
	"testing"

	"github.com/doublegate/prort-ip/internal/scanning"
)

func TestParseScanTypes(t *testing.T) {
	got, err := parseScanTypes([]string{"sS", "sU"})
	if err != nil {
		t.Fatalf("parseScanTypes: %v", err)
	}
	want := []scanning.ScanType{scanning.ScanTypeSYN, scanning.ScanTypeUDP}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestParseScanTypesRejectsUnknown(t *testing.T) {
	if _, err := parseScanTypes([]string{"sZ"}); err == nil {
		t.Fatal("expected error for unknown scan type")
	}
}

func TestParseScanTypesRequiresAtLeastOne(t *testing.T) {
	if _, err := parseScanTypes(nil); err == nil {
		t.Fatal("expected error for empty scan type list")
	}
}

func TestProtocolForConnectNeedsNoRawSocket(t *testing.T) {
	needsRaw, _ := protocolFor([]scanning.ScanType{scanning.ScanTypeConnect})
	if needsRaw {
		t.Error("connect scan should not require a raw socket")
	}
}

func TestProtocolForSynNeedsRawTCP(t *testing.T) {
	needsRaw, proto := protocolFor([]scanning.ScanType{scanning.ScanTypeSYN})
	if !needsRaw {
		t.Error("syn scan should require a raw socket")
	}
	if proto != 6 { // codec.ProtoTCP
		t.Errorf("proto = %d, want 6 (TCP)", proto)
	}
}

func TestProtocolForUDPNeedsRawUDP(t *testing.T) {
	needsRaw, proto := protocolFor([]scanning.ScanType{scanning.ScanTypeUDP})
	if !needsRaw {
		t.Error("udp scan should require a raw socket")
	}
	if proto != 17 { // codec.ProtoUDP
		t.Errorf("proto = %d, want 17 (UDP)", proto)
	}
}
