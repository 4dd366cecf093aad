package metadata

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolver_ParsesDocumentAndTraits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokens/42", r.URL.Path)
		w.Write([]byte(`{
			"name": "Star Striker",
			"image": "https://cdn.example.com/42.png",
			"attributes": [
				{"trait_type": "Position", "value": "Forward"},
				{"trait_type": "Club", "value": "FC Example"},
				{"trait_type": "Rating", "value": 87}
			]
		}`))
	}))
	defer srv.Close()

	r := NewResolver(Config{}, testLogger())
	md, err := r.Resolve(context.Background(), srv.URL+"/tokens/{id}", "42")
	require.NoError(t, err)

	assert.Equal(t, "Star Striker", md.Name)
	assert.Equal(t, "https://cdn.example.com/42.png", md.Image)
	assert.Equal(t, "Forward", md.Position)
	assert.Equal(t, "FC Example", md.Club)
}

func TestResolver_TeamTraitMapsToClub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"name": "n", "attributes": [{"trait_type": "team", "value": "United"}]}`))
	}))
	defer srv.Close()

	r := NewResolver(Config{}, testLogger())
	md, err := r.Resolve(context.Background(), srv.URL, "1")
	require.NoError(t, err)
	assert.Equal(t, "United", md.Club)
}

func TestResolver_IPFSURIRewrittenToGateway(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"name": "n"}`))
	}))
	defer srv.Close()

	r := NewResolver(Config{IPFSGateway: srv.URL + "/ipfs/"}, testLogger())
	_, err := r.Resolve(context.Background(), "ipfs://QmHash/7.json", "7")
	require.NoError(t, err)
	assert.Equal(t, "/ipfs/QmHash/7.json", gotPath)
}

func TestResolver_NonOKStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewResolver(Config{}, testLogger())
	_, err := r.Resolve(context.Background(), srv.URL, "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestResolver_MalformedJSONErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	r := NewResolver(Config{}, testLogger())
	_, err := r.Resolve(context.Background(), srv.URL, "1")
	assert.Error(t, err)
}

func TestResolver_NonStringTraitValuesIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"attributes": [{"trait_type": "position", "value": 9}]}`))
	}))
	defer srv.Close()

	r := NewResolver(Config{}, testLogger())
	md, err := r.Resolve(context.Background(), srv.URL, "1")
	require.NoError(t, err)
	assert.Empty(t, md.Position)
}
