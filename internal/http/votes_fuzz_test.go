package httpserver

import (
	"net/http"
	"testing"
)

func FuzzHandleCastVote(f *testing.F) {
	seeds := []string{
		`{"score":3}`,
		`{"score":-1}`,
		`{"score":1e3}`,
		`{"score":"3"}`,
		`{`,
		``,
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	env := buildTestServer(f)
	allowed := map[int]bool{
		http.StatusOK:                    true,
		http.StatusCreated:               true,
		http.StatusBadRequest:            true,
		http.StatusUnprocessableEntity:   true,
		http.StatusRequestEntityTooLarge: true,
	}

	f.Fuzz(func(t *testing.T, body string) {
		rec := env.do(t, http.MethodPut, "/items/fuzz/vote", "fuzzer", body)
		if !allowed[rec.Code] {
			t.Fatalf("unexpected status %d for body %q: %s", rec.Code, body, rec.Body.String())
		}
	})
}
