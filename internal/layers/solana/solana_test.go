// Copyright 2026 The layerfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layerfs/layerfs/internal/layer"
)

func rc() *layer.RequestContext {
	return &layer.RequestContext{Ctx: context.Background(), Path: "/f"}
}

func fakeCluster(t *testing.T) (rpcURL, writeURL string) {
	t.Helper()
	var mu sync.Mutex
	store := map[string][]byte{}

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		pubkey, _ := req.Params[0].(string)

		mu.Lock()
		data := store[pubkey]
		mu.Unlock()

		resp := rpcResponse{}
		resp.Result.Value.Data = []string{base64.StdEncoding.EncodeToString(data)}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/write", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Pubkey     string `json:"pubkey"`
			DataBase64 string `json:"data_base64"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		data, err := base64.StdEncoding.DecodeString(body.DataBase64)
		require.NoError(t, err)
		mu.Lock()
		store[body.Pubkey] = data
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/rpc", srv.URL + "/write"
}

func TestWriteCloseThenOpenReadRoundTrips(t *testing.T) {
	rpcURL, writeURL := fakeCluster(t)
	l, err := New(Config{RPCAddr: rpcURL, WriteAddr: writeURL})
	require.NoError(t, err)

	fd, err := l.Open(rc(), "/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = l.Pwrite(rc(), fd, []byte("onchain"), 0)
	require.NoError(t, err)
	require.NoError(t, l.Close(rc(), fd))

	fd2, err := l.Open(rc(), "/f", os.O_RDONLY, 0)
	require.NoError(t, err)
	buf := make([]byte, 7)
	n, err := l.Pread(rc(), fd2, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "onchain", string(buf[:n]))
}

func TestOpenUnknownPathWithoutCreateFails(t *testing.T) {
	rpcURL, writeURL := fakeCluster(t)
	l, err := New(Config{RPCAddr: rpcURL, WriteAddr: writeURL})
	require.NoError(t, err)

	_, err = l.Open(rc(), "/missing", os.O_RDONLY, 0)
	require.Error(t, err)
}
