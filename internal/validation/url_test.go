package validation

import (
	"net"
	"strings"
	"testing"
)

func TestNewEndpointValidator(t *testing.T) {
	v := NewEndpointValidator()
	if v == nil {
		t.Fatal("NewEndpointValidator returned nil")
	}
	if !v.AllowLocalhost {
		t.Error("Expected AllowLocalhost to be true, the backend defaults to loopback")
	}
	if v.MaxLength != 2048 {
		t.Errorf("Expected MaxLength to be 2048, got %d", v.MaxLength)
	}
}

func TestValidateAndNormalize(t *testing.T) {
	v := NewEndpointValidator()

	tests := []struct {
		name        string
		input       string
		expected    string
		shouldError bool
		errorMsg    string
	}{
		{
			name:        "empty URL",
			input:       "",
			shouldError: true,
			errorMsg:    "URL cannot be empty",
		},
		{
			name:        "whitespace-only URL",
			input:       "   ",
			shouldError: true,
			errorMsg:    "URL cannot be empty",
		},
		{
			name:     "loopback default",
			input:    "http://127.0.0.1:8000",
			expected: "http://127.0.0.1:8000",
		},
		{
			name:     "trailing slash trimmed",
			input:    "https://api.stash.dev/",
			expected: "https://api.stash.dev",
		},
		{
			name:     "path kept without trailing slash",
			input:    "https://api.stash.dev/v1/",
			expected: "https://api.stash.dev/v1",
		},
		{
			name:     "bare host gets HTTPS",
			input:    "auth.stash.dev",
			expected: "https://auth.stash.dev",
		},
		{
			name:        "non-http scheme",
			input:       "ftp://files.stash.dev",
			shouldError: true,
			errorMsg:    "http or https",
		},
		{
			name:        "fragment rejected",
			input:       "https://api.stash.dev/#frag",
			shouldError: true,
			errorMsg:    "fragment",
		},
		{
			name:        "directory traversal",
			input:       "https://api.stash.dev/../etc",
			shouldError: true,
			errorMsg:    "directory traversal",
		},
		{
			name:        "script in query",
			input:       "https://api.stash.dev/?q=<script",
			shouldError: true,
			errorMsg:    "invalid characters",
		},
		{
			name:        "unroutable host",
			input:       "http://0.0.0.0:8000",
			shouldError: true,
			errorMsg:    "not a routable host",
		},
		{
			name:        "URL too long",
			input:       "https://api.stash.dev/" + strings.Repeat("a", 2100),
			shouldError: true,
			errorMsg:    "URL too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ValidateAndNormalize(tt.input)
			if tt.shouldError {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil (result %q)", tt.errorMsg, got)
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ValidateAndNormalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidateAndNormalize_Restricted(t *testing.T) {
	v := &EndpointValidator{MaxLength: 2048}

	if _, err := v.ValidateAndNormalize("http://localhost:8000"); err == nil {
		t.Error("expected localhost to be rejected when AllowLocalhost is false")
	}
	if _, err := v.ValidateAndNormalize("http://192.168.1.20:8000"); err == nil {
		t.Error("expected private IP to be rejected when AllowPrivateIPs is false")
	}
	if _, err := v.ValidateAndNormalize("https://api.stash.dev"); err != nil {
		t.Errorf("public host rejected: %v", err)
	}
}

func TestIsLoopbackURL(t *testing.T) {
	tests := map[string]bool{
		"http://127.0.0.1:54329":        true,
		"http://localhost:3000/cb":      true,
		"http://[::1]:3000":             true,
		"https://stash.example.org/cb":  false,
		"http://10.0.0.5:3000/callback": false,
	}
	for raw, want := range tests {
		if got := IsLoopbackURL(raw); got != want {
			t.Errorf("IsLoopbackURL(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip       string
		expected bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.0.10", true},
		{"127.0.0.1", true},
		{"169.254.1.1", true},
		{"fd00::1", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}
	for _, tt := range tests {
		if got := isPrivateIP(net.ParseIP(tt.ip)); got != tt.expected {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.expected)
		}
	}
}
