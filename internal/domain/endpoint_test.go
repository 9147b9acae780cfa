package domain

import "testing"

func TestParseTransportKind(t *testing.T) {
	tests := []struct {
		in      string
		want    TransportKind
		wantErr bool
	}{
		{in: "direct", want: KindDirect},
		{in: "", want: KindDirect},
		{in: "0", want: KindDirect},
		{in: "Virtual", want: KindVirtual},
		{in: "1", want: KindVirtual},
		{in: "tunnel", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTransportKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTransportKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTransportKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEndpointValidate(t *testing.T) {
	tests := []struct {
		name    string
		ep      Endpoint
		wantErr bool
	}{
		{name: "direct http", ep: Endpoint{ID: "a", URI: "http://svc.example/api", Kind: KindDirect}},
		{name: "direct https", ep: Endpoint{ID: "a", URI: "https://svc.example", Kind: KindDirect}},
		{name: "virtual with source", ep: Endpoint{ID: "a", URI: "http://svc.example", Kind: KindVirtual, SourceIP: "10.0.0.5"}},
		{name: "virtual without source", ep: Endpoint{ID: "a", URI: "http://svc.example", Kind: KindVirtual}, wantErr: true},
		{name: "missing id", ep: Endpoint{URI: "http://svc.example"}, wantErr: true},
		{name: "ftp scheme", ep: Endpoint{ID: "a", URI: "ftp://svc.example"}, wantErr: true},
		{name: "no host", ep: Endpoint{ID: "a", URI: "http:///services"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ep.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEndpointRequiresTLS(t *testing.T) {
	if (Endpoint{URI: "http://a"}).RequiresTLS() {
		t.Error("http endpoint should not require TLS")
	}
	if !(Endpoint{URI: "HTTPS://a"}).RequiresTLS() {
		t.Error("https endpoint should require TLS")
	}
}
