package domain

import (
	"strings"
	"testing"
)

func TestNormalizeElement(t *testing.T) {
	tests := []struct {
		name     string
		element  ServiceElement
		expected ServiceRecord
	}{
		{
			name:    "empty sni becomes sentinel",
			element: ServiceElement{SNI: "", ServiceIP: "10.1.1.1", ServicePort: "8080"},
			expected: ServiceRecord{
				ServerName: "empty", ServiceIP: "10.1.1.1", ServicePort: 8080, EndpointID: "ep-1",
			},
		},
		{
			name:    "whitespace sni becomes sentinel",
			element: ServiceElement{SNI: "   ", ServiceIP: "10.1.1.1", ServicePort: "443"},
			expected: ServiceRecord{
				ServerName: "empty", ServiceIP: "10.1.1.1", ServicePort: 443, EndpointID: "ep-1",
			},
		},
		{
			name:    "malformed ip falls back to loopback",
			element: ServiceElement{SNI: "api.local", ServiceIP: "not-an-ip", ServicePort: "443"},
			expected: ServiceRecord{
				ServerName: "api.local", ServiceIP: "127.0.0.1", ServicePort: 443, EndpointID: "ep-1",
			},
		},
		{
			name:    "malformed port falls back to 80",
			element: ServiceElement{SNI: "api.local", ServiceIP: "10.0.0.2", ServicePort: "http"},
			expected: ServiceRecord{
				ServerName: "api.local", ServiceIP: "10.0.0.2", ServicePort: 80, EndpointID: "ep-1",
			},
		},
		{
			name:    "out of range port falls back to 80",
			element: ServiceElement{SNI: "api.local", ServiceIP: "10.0.0.2", ServicePort: "70000"},
			expected: ServiceRecord{
				ServerName: "api.local", ServiceIP: "10.0.0.2", ServicePort: 80, EndpointID: "ep-1",
			},
		},
		{
			name:    "ipv4 mapped ipv6 is unmapped",
			element: ServiceElement{SNI: "api.local", ServiceIP: "::ffff:10.0.0.9", ServicePort: "9000"},
			expected: ServiceRecord{
				ServerName: "api.local", ServiceIP: "10.0.0.9", ServicePort: 9000, EndpointID: "ep-1",
			},
		},
		{
			name:    "ipv6 kept",
			element: ServiceElement{SNI: "v6.local", ServiceIP: "fd00::1", ServicePort: "8443"},
			expected: ServiceRecord{
				ServerName: "v6.local", ServiceIP: "fd00::1", ServicePort: 8443, EndpointID: "ep-1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeElement("ep-1", tt.element)
			if got != tt.expected {
				t.Errorf("NormalizeElement() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestParseTopology(t *testing.T) {
	body := `{"elements":[
		{"sni":"","si":"10.1.1.1","sp":"8080"},
		{"sni":"web.local","si":"10.1.1.2","sp":443},
		{"sni":"bad.local","si":"??","sp":null}
	]}`

	doc, err := ParseTopology(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseTopology() error = %v", err)
	}
	if len(doc.Elements) != 3 {
		t.Fatalf("ParseTopology() elements = %d, want 3", len(doc.Elements))
	}

	records := doc.Records("ep-7")
	want := []ServiceRecord{
		{ServerName: "empty", ServiceIP: "10.1.1.1", ServicePort: 8080, EndpointID: "ep-7"},
		{ServerName: "web.local", ServiceIP: "10.1.1.2", ServicePort: 443, EndpointID: "ep-7"},
		{ServerName: "bad.local", ServiceIP: "127.0.0.1", ServicePort: 80, EndpointID: "ep-7"},
	}
	if len(records) != len(want) {
		t.Fatalf("Records() = %d records, want %d", len(records), len(want))
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("Records()[%d] = %+v, want %+v", i, records[i], want[i])
		}
	}
}

func TestParseTopologyWrongFieldTypes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []ServiceRecord
	}{
		{
			name: "numeric si",
			body: `{"elements":[{"sni":"a","si":10,"sp":"80"},{"sni":"b","si":"10.0.0.2","sp":"81"}]}`,
			want: []ServiceRecord{
				{ServerName: "a", ServiceIP: "127.0.0.1", ServicePort: 80, EndpointID: "ep-1"},
				{ServerName: "b", ServiceIP: "10.0.0.2", ServicePort: 81, EndpointID: "ep-1"},
			},
		},
		{
			name: "numeric sni",
			body: `{"elements":[{"sni":42,"si":"10.0.0.1","sp":"443"},{"sni":"b","si":"10.0.0.2","sp":"81"}]}`,
			want: []ServiceRecord{
				{ServerName: "42", ServiceIP: "10.0.0.1", ServicePort: 443, EndpointID: "ep-1"},
				{ServerName: "b", ServiceIP: "10.0.0.2", ServicePort: 81, EndpointID: "ep-1"},
			},
		},
		{
			name: "object and array fields",
			body: `{"elements":[{"sni":{"x":1},"si":["10.0.0.1"],"sp":{"p":443}},{"sni":true,"si":"10.0.0.3","sp":8080}]}`,
			want: []ServiceRecord{
				{ServerName: "empty", ServiceIP: "127.0.0.1", ServicePort: 80, EndpointID: "ep-1"},
				{ServerName: "true", ServiceIP: "10.0.0.3", ServicePort: 8080, EndpointID: "ep-1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseTopology(strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("ParseTopology() error = %v", err)
			}
			got := doc.Records("ep-1")
			if len(got) != len(tt.want) {
				t.Fatalf("Records() = %+v, want %+v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Records()[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseTopologyErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>oops</html>"},
		{name: "json null", body: "null"},
		{name: "wrong shape", body: `{"elements":"nope"}`},
		{name: "empty body", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTopology(strings.NewReader(tt.body)); err == nil {
				t.Errorf("ParseTopology(%q) should fail", tt.body)
			}
		})
	}
}

func TestRecordsDeduplicatesWithinDocument(t *testing.T) {
	doc := &TopologyDocument{Elements: []ServiceElement{
		{SNI: "", ServiceIP: "bogus", ServicePort: "x"},
		{SNI: "empty", ServiceIP: "127.0.0.1", ServicePort: "80"},
	}}

	records := doc.Records("ep-1")
	if len(records) != 1 {
		t.Errorf("Records() = %d, want 1 (both elements normalize to the same key)", len(records))
	}
}

func TestDocumentWithoutElements(t *testing.T) {
	doc, err := ParseTopology(strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("ParseTopology() error = %v", err)
	}
	if got := doc.Records("ep-1"); len(got) != 0 {
		t.Errorf("Records() = %v, want none", got)
	}
}
