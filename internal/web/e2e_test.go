// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package web_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/webcrumbs/crumbhost/internal/artifact"
	"github.com/webcrumbs/crumbhost/internal/compose"
	"github.com/webcrumbs/crumbhost/internal/pipeline"
	"github.com/webcrumbs/crumbhost/internal/sandbox/capability"
	sandboxlua "github.com/webcrumbs/crumbhost/internal/sandbox/lua"
	"github.com/webcrumbs/crumbhost/internal/web"
)

// pluginOrigin is a fake remote plugin source.
type pluginOrigin struct {
	mu       sync.Mutex
	payloads map[string]string
	delay    time.Duration
	hits     atomic.Int64
}

func (o *pluginOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.hits.Add(1)
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	o.mu.Lock()
	body, ok := o.payloads[strings.TrimPrefix(r.URL.Path, "/plugins/")]
	o.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = io.WriteString(w, body)
}

type response struct {
	status int
	header http.Header
	body   string
}

func get(url string) response {
	resp, err := http.Get(url)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return response{status: resp.StatusCode, header: resp.Header, body: string(b)}
}

var _ = Describe("Plugin host end to end", func() {
	const helloClient = "document.getElementById(\"root\").dataset.hydrated = \"yes\"; // <b>&</b>\n"

	var (
		origin    *pluginOrigin
		originSrv *httptest.Server
		cache     *artifact.Cache
		host      *httptest.Server
	)

	BeforeEach(func() {
		origin = &pluginOrigin{payloads: map[string]string{
			"hello/server": `exports.default = function() return ui.h("p", nil, "Hello") end`,
			"hello/client": helloClient,
			"dup/server":   `exports.default = function(props) return ui.h("span", nil, "dup ", props.env) end`,
			"dup/client":   `console.log("dup")`,
		}}
		originSrv = httptest.NewServer(origin)

		fetcher, err := artifact.NewHTTPFetcher(artifact.HTTPFetcherConfig{
			BaseURL:       originSrv.URL,
			ValidateNames: true,
		})
		Expect(err).NotTo(HaveOccurred())
		cache = artifact.NewCache(fetcher)

		enforcer, err := capability.NewEnforcer(capability.DefaultGrants)
		Expect(err).NotTo(HaveOccurred())

		p := pipeline.New(cache, sandboxlua.NewExecutor(enforcer), compose.NewComposer())
		server := web.NewServer(web.Config{Installed: []string{"hello", "dup"}}, p)
		host = httptest.NewServer(server.Handler())
	})

	AfterEach(func() {
		host.Close()
		Expect(cache.Close()).To(Succeed())
		originSrv.Close()
	})

	Describe("rendering a plugin", func() {
		It("mounts the server markup and inlines the client payload verbatim", func() {
			resp := get(host.URL + "/hello")

			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.header.Get("Content-Type")).To(Equal("text/html; charset=utf-8"))
			Expect(resp.body).To(ContainSubstring(`<div id="root"><p>Hello</p></div>`))
			Expect(resp.body).To(ContainSubstring("<script>" + helloClient + "</script>"))
		})

		It("serves the client payload byte-identical to the source", func() {
			resp := get(host.URL + "/plugins/hello/client")

			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.header.Get("Content-Type")).To(Equal("application/javascript"))
			Expect(resp.body).To(Equal(helloClient))
		})

		It("fetches from the source only once", func() {
			get(host.URL + "/hello")
			get(host.URL + "/hello")
			get(host.URL + "/plugins/hello/server")

			Expect(origin.hits.Load()).To(Equal(int64(2)))
		})
	})

	Describe("a plugin missing from the source", func() {
		It("answers with the uniform failure and caches nothing", func() {
			resp := get(host.URL + "/missing")

			Expect(resp.status).To(Equal(http.StatusInternalServerError))
			Expect(resp.body).To(Equal(pipeline.PublicMessage))
			Expect(resp.header.Get(web.HeaderError)).To(Equal(artifact.CodeUpstream))

			_, stored := cache.Lookup("missing")
			Expect(stored).To(BeFalse())
		})
	})

	Describe("simultaneous first requests", func() {
		It("share one fetch and one cache entry", func() {
			origin.delay = 100 * time.Millisecond

			var wg sync.WaitGroup
			results := make([]response, 2)
			for i := range results {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					results[i] = get(host.URL + "/dup")
				}()
			}
			wg.Wait()

			Expect(results[0].status).To(Equal(http.StatusOK))
			Expect(results[1].status).To(Equal(http.StatusOK))
			Expect(results[0].body).To(Equal(results[1].body))
			Expect(results[0].body).To(ContainSubstring("<span>dup server</span>"))

			Expect(cache.Names()).To(Equal([]string{"dup"}))
			Expect(origin.hits.Load()).To(Equal(int64(2)), "one server and one client request")
		})
	})

	Describe("the listing page", func() {
		It("links every installed plugin", func() {
			resp := get(host.URL + "/")

			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.body).To(ContainSubstring(`href="/hello"`))
			Expect(resp.body).To(ContainSubstring(`href="/dup"`))
		})
	})
})
