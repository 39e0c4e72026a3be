package embeddings

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/sitesearch/internal/common"
)

func newTestClient(url string, dimension int) *Client {
	return NewClient(&common.EmbeddingConfig{
		BaseURL:    url,
		Model:      "bge-m3",
		Dimension:  dimension,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	}, common.GetLogger())
}

// denseResponse builds a data-array response with one float vector per item
func denseResponse(t *testing.T, vectors ...[]float32) embedResponse {
	t.Helper()
	resp := embedResponse{Model: "bge-m3"}
	for i, vec := range vectors {
		raw, err := json.Marshal(vec)
		require.NoError(t, err)
		resp.Data = append(resp.Data, embedData{Object: "embedding", Index: i, Embedding: raw})
	}
	return resp
}

// sparseResponse builds a data-array response with one weight object per item
func sparseResponse(t *testing.T, maps ...map[string]float32) embedResponse {
	t.Helper()
	resp := embedResponse{Model: "bge-m3"}
	for i, weights := range maps {
		raw, err := json.Marshal(weights)
		require.NoError(t, err)
		resp.Data = append(resp.Data, embedData{Object: "embedding", Index: i, Embedding: raw})
	}
	return resp
}

func TestEmbedDense(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.ReturnDense)
		assert.False(t, req.ReturnSparse)
		assert.False(t, req.ReturnColbertVecs)
		assert.Equal(t, []string{"hello", "world"}, req.Input)

		json.NewEncoder(w).Encode(denseResponse(t, []float32{0.1, 0.2, 0.3}, []float32{0.4, 0.5, 0.6}))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)

	vectors, err := client.EmbedDense(t.Context(), []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])
}

func TestEmbedDenseOrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := denseResponse(t, []float32{2, 2, 2}, []float32{1, 1, 1})
		resp.Data[0].Index, resp.Data[1].Index = 1, 0
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)

	vectors, err := client.EmbedDense(t.Context(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1}, vectors[0])
	assert.Equal(t, []float32{2, 2, 2}, vectors[1])
}

func TestEmbedDenseDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(denseResponse(t, []float32{0.1, 0.2}))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)

	_, err := client.EmbedDense(t.Context(), []string{"hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestEmbedSparseParsesTokenIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.ReturnSparse)

		json.NewEncoder(w).Encode(sparseResponse(t, map[string]float32{"17": 0.8, "4021": 0.25}))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)

	maps, err := client.EmbedSparse(t.Context(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, maps, 1)
	assert.InDelta(t, 0.8, maps[0][17], 1e-6)
	assert.InDelta(t, 0.25, maps[0][4021], 1e-6)
}

func TestEmbedSparseRejectsBadTokenID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sparseResponse(t, map[string]float32{"not-a-number": 0.5}))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)

	_, err := client.EmbedSparse(t.Context(), []string{"hello"})
	assert.Error(t, err)
}

func TestEmbedRetriesOn5xx(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(denseResponse(t, []float32{1, 2, 3}))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)

	vectors, err := client.EmbedDense(t.Context(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, 2, calls)
}

func TestEmbedCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(denseResponse(t, []float32{1, 2, 3}))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)

	_, err := client.EmbedDense(t.Context(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestEmbedEmptyInputSkipsRequest(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1", 3)

	vectors, err := client.EmbedDense(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestRerank(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "admission deadline", req.Query)
		assert.Equal(t, 2, req.TopN)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"index": 1, "relevance_score": 0.91},
				{"index": 0, "relevance_score": 0.42},
			},
		})
	}))
	defer server.Close()

	reranker := NewReranker(&common.RerankerConfig{
		BaseURL: server.URL,
		Model:   "jina-reranker-v2",
		Timeout: 5 * time.Second,
	}, common.GetLogger())

	results, err := reranker.Rerank(t.Context(), "admission deadline",
		[]string{"library hours", "apply before January 15"}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Index)
	assert.InDelta(t, 0.91, results[0].Score, 1e-6)
}

func TestRerankRetriesOn5xx(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{{"index": 0, "relevance_score": 0.7}},
		})
	}))
	defer server.Close()

	reranker := NewReranker(&common.RerankerConfig{
		BaseURL:    server.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	}, common.GetLogger())

	results, err := reranker.Rerank(t.Context(), "q", []string{"doc"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, calls)
}

func TestRerankDoesNotRetryOn4xx(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	reranker := NewReranker(&common.RerankerConfig{
		BaseURL:    server.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	}, common.GetLogger())

	_, err := reranker.Rerank(t.Context(), "q", []string{"doc"}, 1)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRerankRejectsOutOfRangeIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{{"index": 5, "relevance_score": 0.9}},
		})
	}))
	defer server.Close()

	reranker := NewReranker(&common.RerankerConfig{BaseURL: server.URL, Timeout: 5 * time.Second}, common.GetLogger())

	_, err := reranker.Rerank(t.Context(), "q", []string{"only one"}, 1)
	assert.Error(t, err)
}

func TestRerankUnavailableWithoutEndpoint(t *testing.T) {
	reranker := NewReranker(&common.RerankerConfig{}, common.GetLogger())

	assert.False(t, reranker.Available())
	_, err := reranker.Rerank(t.Context(), "q", []string{"doc"}, 1)
	assert.Error(t, err)
}
