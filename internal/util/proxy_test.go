package util

import (
	"net/http"
	"testing"
	"time"
)

func TestNewProxyFunc_Explicit(t *testing.T) {
	proxy := NewProxyFunc("http://proxy.internal:3128", "", "eutils.ncbi.nlm.nih.gov")

	req, _ := http.NewRequest(http.MethodGet, "https://api.openai.com/v1/chat/completions", nil)
	got, err := proxy(req)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	if got == nil || got.Host != "proxy.internal:3128" {
		t.Errorf("https request should fall back to the http proxy, got %v", got)
	}

	req, _ = http.NewRequest(http.MethodGet, "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi", nil)
	got, err = proxy(req)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	if got != nil {
		t.Errorf("no_proxy host should connect directly, got %v", got)
	}
}

func TestNewProxyFunc_SchemeSpecific(t *testing.T) {
	proxy := NewProxyFunc("http://plain:8080", "http://secure:8443", "")

	req, _ := http.NewRequest(http.MethodGet, "https://example.org/", nil)
	got, _ := proxy(req)
	if got == nil || got.Host != "secure:8443" {
		t.Errorf("expected https proxy, got %v", got)
	}

	req, _ = http.NewRequest(http.MethodGet, "http://example.org/", nil)
	got, _ = proxy(req)
	if got == nil || got.Host != "plain:8080" {
		t.Errorf("expected http proxy, got %v", got)
	}
}

func TestNewHTTPClient(t *testing.T) {
	client := NewHTTPClient(5*time.Second, "", "", "")
	if client.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", client.Timeout)
	}
	if _, ok := client.Transport.(*http.Transport); !ok {
		t.Errorf("expected *http.Transport, got %T", client.Transport)
	}
}
