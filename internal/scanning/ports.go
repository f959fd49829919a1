package scanning

import (
	"fmt"
	"strconv"
	"strings"
)

const expectedPortRangeParts = 2

// validatePortSpec validates a port specification: a comma-separated list
// of singles and ranges ("80,443,8000-8100"), or the literal "-" meaning
// all 65535 ports (spec §6 "-p-").
func validatePortSpec(spec string) error {
	if spec == "-" {
		return nil
	}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return &ScanError{Op: "validate ports", Err: fmt.Errorf("empty port entry in spec %q", spec)}
		}
		if strings.Contains(part, "-") {
			if err := validatePortRange(part); err != nil {
				return err
			}
			continue
		}
		if err := validateSinglePort(part); err != nil {
			return err
		}
	}
	return nil
}

func validatePortRange(part string) error {
	rangeParts := strings.Split(part, "-")
	if len(rangeParts) != expectedPortRangeParts {
		return &ScanError{Op: "validate ports", Err: fmt.Errorf("invalid port range format: %s", part)}
	}
	start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
	if err != nil {
		return &ScanError{Op: "validate ports", Err: fmt.Errorf("invalid start port: %s", rangeParts[0])}
	}
	end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
	if err != nil {
		return &ScanError{Op: "validate ports", Err: fmt.Errorf("invalid end port: %s", rangeParts[1])}
	}
	if start < 0 || start > 65535 || end < 0 || end > 65535 {
		return &ScanError{Op: "validate ports", Err: fmt.Errorf("invalid port range: %s (must be 0-65535)", part)}
	}
	if start > end {
		return &ScanError{Op: "validate ports", Err: fmt.Errorf("invalid port range: start port must be less than end port")}
	}
	return nil
}

func validateSinglePort(part string) error {
	port, err := strconv.Atoi(strings.TrimSpace(part))
	if err != nil {
		return &ScanError{Op: "validate ports", Err: fmt.Errorf("invalid port: %s", part)}
	}
	if port < 0 || port > 65535 {
		return &ScanError{Op: "validate ports", Err: fmt.Errorf("invalid port: %d (must be 0-65535)", port)}
	}
	return nil
}

// ExpandPorts parses spec into the concrete, ordered list of port numbers
// it denotes. "-" expands to 1..65535.
func ExpandPorts(spec string) ([]uint16, error) {
	if err := validatePortSpec(spec); err != nil {
		return nil, err
	}
	if spec == "-" {
		ports := make([]uint16, 65535)
		for i := range ports {
			ports[i] = uint16(i + 1)
		}
		return ports, nil
	}

	var ports []uint16
	seen := make(map[uint16]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "-") {
			bounds := strings.Split(part, "-")
			start, _ := strconv.Atoi(strings.TrimSpace(bounds[0]))
			end, _ := strconv.Atoi(strings.TrimSpace(bounds[1]))
			for p := start; p <= end; p++ {
				if !seen[uint16(p)] {
					seen[uint16(p)] = true
					ports = append(ports, uint16(p))
				}
			}
			continue
		}
		p, _ := strconv.Atoi(part)
		if !seen[uint16(p)] {
			seen[uint16(p)] = true
			ports = append(ports, uint16(p))
		}
	}
	return ports, nil
}
