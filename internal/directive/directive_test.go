package directive

import "testing"

func TestParseProviderOverride_Bracketed(t *testing.T) {
	p, ok := ParseProviderOverride("Fix the bug [provider=anthropic]")
	if !ok || p != "anthropic" {
		t.Errorf("expected anthropic override, got %q ok=%v", p, ok)
	}
}

func TestParseProviderOverride_NaturalLanguage(t *testing.T) {
	p, ok := ParseProviderOverride("please use generic for this one")
	if !ok || p != "generic" {
		t.Errorf("expected generic override, got %q ok=%v", p, ok)
	}
}

func TestParseProviderOverride_NoneFound(t *testing.T) {
	_, ok := ParseProviderOverride("just a plain description")
	if ok {
		t.Error("expected no override")
	}
}

func TestParseRepoTag(t *testing.T) {
	repo, ok := ParseRepoTag("Something broke [repo=my-service]")
	if !ok || repo != "my-service" {
		t.Errorf("expected my-service, got %q ok=%v", repo, ok)
	}
}
