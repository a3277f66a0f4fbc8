// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

//go:build integration

package integration

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/webcrumbs/crumbhost/internal/artifact"
	"github.com/webcrumbs/crumbhost/internal/compose"
	"github.com/webcrumbs/crumbhost/internal/config"
	"github.com/webcrumbs/crumbhost/internal/origin"
	"github.com/webcrumbs/crumbhost/internal/pipeline"
	sandboxlua "github.com/webcrumbs/crumbhost/internal/sandbox/lua"
	"github.com/webcrumbs/crumbhost/internal/web"
)

var _ = Describe("Sample plugins", func() {
	var (
		pluginDir string
		originSrv *origin.Server
		webSrv    *web.Server
		cache     *artifact.Cache
		baseURL   string
	)

	get := func(path string) (int, string, http.Header) {
		resp, err := http.Get(baseURL + path) //nolint:noctx // test helper
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, string(body), resp.Header
	}

	BeforeEach(func() {
		pluginDir = filepath.Join("..", "..", "plugins")

		originSrv = origin.NewServer("127.0.0.1:0", os.DirFS(pluginDir), nil)
		_, err := originSrv.Start()
		Expect(err).NotTo(HaveOccurred())

		cfg := config.Default()
		cfg.Server.Addr = "127.0.0.1:0"
		cfg.Source.BaseURL = "http://" + originSrv.Addr()
		Expect(cfg.Validate()).To(Succeed())

		fetcher, err := artifact.NewHTTPFetcher(cfg.FetcherConfig())
		Expect(err).NotTo(HaveOccurred())
		cache = artifact.NewCache(fetcher)

		enforcer, err := cfg.Enforcer()
		Expect(err).NotTo(HaveOccurred())
		executor := sandboxlua.NewExecutor(enforcer, sandboxlua.WithLimits(cfg.Limits()))
		p := pipeline.New(cache, executor, compose.NewComposer(compose.WithSiteTitle(cfg.Site.Title)))

		webSrv = web.NewServer(cfg.WebConfig(), p)
		_, err = webSrv.Start()
		Expect(err).NotTo(HaveOccurred())
		baseURL = "http://" + webSrv.Addr()
	})

	AfterEach(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(webSrv.Stop(ctx)).To(Succeed())
		Expect(originSrv.Stop(ctx)).To(Succeed())
		Expect(cache.Close()).To(Succeed())
	})

	It("lists every sample plugin on the index page", func() {
		names, err := origin.Plugins(os.DirFS(pluginDir))
		Expect(err).NotTo(HaveOccurred())

		status, body, _ := get("/")
		Expect(status).To(Equal(http.StatusOK))
		for _, name := range names {
			Expect(body).To(ContainSubstring(`href="/` + name + `"`))
		}
	})

	It("renders plugin1 with its client code", func() {
		client, err := os.ReadFile(filepath.Join(pluginDir, "plugin1", origin.ClientFile))
		Expect(err).NotTo(HaveOccurred())

		status, body, _ := get("/plugin1")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`<section class="card" data-plugin="plugin1">`))
		Expect(body).To(ContainSubstring(`<span class="badge">server</span>`))
		Expect(body).To(ContainSubstring("<script>" + string(client) + "</script>"))
	})

	It("renders plugin2 from a component table", func() {
		status, body, _ := get("/plugin2")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring("<h2>plugin2 (server)</h2>"))
		Expect(body).To(ContainSubstring(`<li class="done">Fetch payloads</li><li>Evaluate server code</li>`))
	})

	It("serves the raw client payload byte for byte", func() {
		client, err := os.ReadFile(filepath.Join(pluginDir, "plugin2", origin.ClientFile))
		Expect(err).NotTo(HaveOccurred())

		status, body, header := get("/plugins/plugin2/client")
		Expect(status).To(Equal(http.StatusOK))
		Expect(header.Get("Content-Type")).To(HavePrefix("application/javascript"))
		Expect(body).To(Equal(string(client)))
	})

	It("answers an unknown plugin with the opaque error page", func() {
		status, body, header := get("/plugin3")
		Expect(status).To(Equal(http.StatusInternalServerError))
		Expect(body).To(ContainSubstring(pipeline.PublicMessage))
		Expect(header.Get(web.HeaderError)).To(Equal(artifact.CodeUpstream))
	})
})
