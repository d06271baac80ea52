package index

import (
	"slices"
	"testing"
)

func TestTokenize_CaseBoundary(t *testing.T) {
	got := Tokenize("LoginScreen")
	for _, want := range []string{"login", "screen", "loginscreen"} {
		if !slices.Contains(got, want) {
			t.Errorf("Tokenize(LoginScreen) = %v, missing %q", got, want)
		}
	}
}

func TestTokenize_Separators(t *testing.T) {
	got := Tokenize("src/auth_handler-v2.ts")
	for _, want := range []string{"src", "auth", "handler", "v2", "ts", "authhandlerv2ts"} {
		if !slices.Contains(got, want) {
			t.Errorf("Tokenize = %v, missing %q", got, want)
		}
	}
}

func TestTokenize_Acronym(t *testing.T) {
	got := Tokenize("HTMLParser")
	for _, want := range []string{"html", "parser", "htmlparser"} {
		if !slices.Contains(got, want) {
			t.Errorf("Tokenize(HTMLParser) = %v, missing %q", got, want)
		}
	}
}

func TestTokenize_CaseInsensitive(t *testing.T) {
	if !slices.Equal(Tokenize("LOGIN flow"), Tokenize("login FLOW")) {
		t.Errorf("case should not matter: %v vs %v", Tokenize("LOGIN flow"), Tokenize("login FLOW"))
	}
}

func TestTokenize_DropsShortTerms(t *testing.T) {
	got := Tokenize("a b cd")
	if !slices.Equal(got, []string{"cd"}) {
		t.Errorf("Tokenize = %v, want [cd]", got)
	}
}

func TestQueryTerms_Dedup(t *testing.T) {
	got := QueryTerms("login Login LOGIN")
	if !slices.Equal(got, []string{"login"}) {
		t.Errorf("QueryTerms = %v, want [login]", got)
	}
}

func TestTermFrequencies(t *testing.T) {
	tf := termFrequencies("login login", "Login")
	if tf["login"] != 3 {
		t.Errorf("tf[login] = %d, want 3", tf["login"])
	}
}
