// Copyright 2025 Tom Barlow
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

package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tombee/beacon/internal/setup"
	"github.com/tombee/beacon/pkg/telemetry"
)

// newDemo returns the demo application served behind request tracking.
//
//	GET /           trace item
//	GET /checkout   event plus a tracked outbound call to /inventory
//	GET /inventory  plain JSON response
//	GET /fail       exception and a 500
func newDemo(stack *setup.Stack) http.Handler {
	mux := http.NewServeMux()
	client := stack.HTTPClient()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		stack.Client.TrackTrace(r.Context(), "demo root visited", telemetry.SeverityInformation)
		fmt.Fprintln(w, "beacon demo: try /checkout, /inventory or /fail")
	})

	mux.HandleFunc("GET /inventory", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"sku":"demo","available":3}`)
	})

	mux.HandleFunc("GET /checkout", func(w http.ResponseWriter, r *http.Request) {
		stack.Client.TrackEvent(r.Context(), "checkout", map[string]string{"sku": "demo"})

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+r.Host+"/inventory", nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			stack.Client.TrackException(r.Context(), err)
			http.Error(w, "inventory unavailable", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	})

	mux.HandleFunc("GET /fail", func(w http.ResponseWriter, r *http.Request) {
		stack.Client.TrackException(r.Context(), errors.New("demo failure"))
		http.Error(w, "demo failure", http.StatusInternalServerError)
	})

	return mux
}
