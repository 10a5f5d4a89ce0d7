package security

import (
	"net"
	"testing"
)

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		url          string
		allowPrivate bool
		wantErr      error
	}{
		{"https://example.com/hook", false, nil},
		{"http://example.com:8080/hook", false, nil},
		{"ftp://example.com/hook", false, ErrInvalidScheme},
		{"not a url://", false, ErrInvalidScheme},
		{"https://metadata.google.internal/computeMetadata", false, ErrMetadataEndpoint},
		{"https://metadata.google.internal/computeMetadata", true, ErrMetadataEndpoint},
		{"http://localhost:3000/hook", false, ErrLoopbackIP},
		{"http://localhost:3000/hook", true, nil},
		{"http://127.0.0.1/hook", false, ErrLoopbackIP},
		{"http://127.0.0.1/hook", true, nil},
		{"http://10.0.0.5/hook", false, ErrPrivateIP},
		{"http://10.0.0.5/hook", true, nil},
		{"http://169.254.169.254/latest/meta-data", false, ErrMetadataEndpoint},
		{"http://169.254.169.254/latest/meta-data", true, ErrMetadataEndpoint},
		{"http://example.com:6379/hook", false, ErrBlockedPort},
		{"http://user@example.com/hook", false, ErrInvalidURL},
	}

	for _, tt := range tests {
		err := ValidateEndpointURL(tt.url, tt.allowPrivate)
		if err != tt.wantErr {
			t.Errorf("ValidateEndpointURL(%q, %v) = %v, want %v", tt.url, tt.allowPrivate, err, tt.wantErr)
		}
	}
}

func TestValidateIP(t *testing.T) {
	tests := []struct {
		ip           string
		allowPrivate bool
		wantErr      error
	}{
		{"93.184.216.34", false, nil},
		{"127.0.0.1", false, ErrLoopbackIP},
		{"127.0.0.1", true, nil},
		{"192.168.1.10", false, ErrPrivateIP},
		{"192.168.1.10", true, nil},
		{"169.254.169.254", true, ErrMetadataEndpoint},
		{"169.254.10.10", true, ErrLinkLocalIP},
		{"0.0.0.0", false, ErrPrivateIP},
	}

	for _, tt := range tests {
		err := ValidateIP(net.ParseIP(tt.ip), tt.allowPrivate)
		if err != tt.wantErr {
			t.Errorf("ValidateIP(%s, %v) = %v, want %v", tt.ip, tt.allowPrivate, err, tt.wantErr)
		}
	}
}
