package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/leonardcser/hotcache/internal/cache"
	"github.com/leonardcser/hotcache/internal/config"
	"github.com/leonardcser/hotcache/internal/logger"
	tools "github.com/leonardcser/hotcache/internal/tools"
	web "github.com/leonardcser/hotcache/internal/web"
)

const daemonBinary = "hotcache-daemon"

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		panic(err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.Infof("Starting hotcache MCP server")

	client := cache.NewClient(cfg.SocketPath)
	if err := ensureDaemon(client); err != nil {
		logger.Errorf("Failed to reach cache daemon at %s: %v", cfg.SocketPath, err)
		panic(err)
	}
	logger.Infof("Connected to cache daemon at %s", cfg.SocketPath)

	// A small local tier saves a socket round trip for pages asked for repeatedly.
	kv, err := cache.NewTiered(client, cfg.HotCapacity, cfg.HotMaxAge)
	if err != nil {
		panic(err)
	}
	fetcher := web.NewFetcher(kv, cfg.FetchTTL)
	searcher := web.NewSearcher(kv, cfg.FetchTTL)

	s := server.NewMCPServer(
		"hotcache",
		"0.2.0",
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)

	toolFetch := mcp.NewTool("web-fetch",
		mcp.WithDescription(multiline(
			"Fetches content from a specified URL and returns the parsed content",
			"\nFunctionality:",
			"- Takes a URL as input",
			"- Fetches the URL content and parses it",
			"- Returns the structured content including title, description, text, and links",
			"\nUsage notes:",
			"- The URL must be a fully-formed valid URL",
			"- This tool is read-only and does not modify any files",
			"- Responses are cached; repeated requests for the same URL are served from memory or disk",
		)),
		mcp.WithString("url", mcp.Required(), mcp.Description("The URL to fetch content from")),
	)
	s.AddTool(toolFetch, tools.WebFetchHandler(fetcher))

	toolSearch := mcp.NewTool("web-search",
		mcp.WithDescription(multiline(
			"Searches the web with DuckDuckGo and returns titles, links and snippets",
			"\nUsage notes:",
			"- Results for the same query are cached",
			"- Use web-fetch to read a result page",
		)),
		mcp.WithString("query", mcp.Required(), mcp.Description("The search query")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (1-20, default 10)")),
	)
	s.AddTool(toolSearch, tools.WebSearchHandler(searcher))

	toolStats := mcp.NewTool("cache-stats",
		mcp.WithDescription("Reports size, hit ratio and evictions of the in-memory LRU cache tier"),
	)
	s.AddTool(toolStats, tools.CacheStatsHandler(kv))
	logger.Infof("Registered tools: web-fetch, web-search, cache-stats")

	if err := server.ServeStdio(s); err != nil {
		logger.Errorf("server error: %v", err)
	}
	logger.Infof("Final hot tier stats: %+v", kv.Stats())
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

// ensureDaemon pings the daemon, starting it and waiting for its socket when needed.
func ensureDaemon(client *cache.Client) error {
	err := client.Ping()
	if err == nil {
		return nil
	}
	logger.Warnf("Cache daemon not reachable (%v), attempting to start it", err)
	if err := startCacheDaemon(); err != nil {
		return err
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err = client.Ping(); err == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return err
}

// startCacheDaemon looks for the daemon next to this executable, then on PATH,
// then in the working directory.
func startCacheDaemon() error {
	var candidates []string
	if exePath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exePath), daemonBinary))
	}
	if path, err := exec.LookPath(daemonBinary); err == nil {
		candidates = append(candidates, path)
	}
	candidates = append(candidates, "./"+daemonBinary)

	for _, bin := range candidates {
		if _, err := os.Stat(bin); err != nil {
			continue
		}
		cmd := exec.Command(bin)
		cmd.Env = os.Environ()
		if err := cmd.Start(); err != nil {
			return err
		}
		logger.Infof("Started cache daemon %s (pid %d)", bin, cmd.Process.Pid)
		return nil
	}
	return exec.ErrNotFound
}
