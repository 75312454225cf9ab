package detect

import "botgate/pkg/types"

// defaultDataset is the built-in pattern set used until a remote dataset is
// installed, and permanently when no credential is configured. It covers the
// major AI crawlers, search engines, and common HTTP tooling.
func defaultDataset() types.Dataset {
	return types.Dataset{
		Version: "builtin-1",
		Patterns: []types.Pattern{
			// OpenAI
			{Pattern: `GPTBot`, Type: "crawler", Category: "AI", Subcategory: "Trainer", Company: "OpenAI", IsCompliant: true, IsAITrainer: true, Intent: "training"},
			{Pattern: `ChatGPT-User`, Type: "fetcher", Category: "AI", Subcategory: "Assistant", Company: "OpenAI", IsCompliant: true, Intent: "user-request"},
			{Pattern: `OAI-SearchBot`, Type: "crawler", Category: "AI", Subcategory: "Search", Company: "OpenAI", IsCompliant: true, Intent: "search"},

			// Anthropic
			{Pattern: `ClaudeBot`, Type: "crawler", Category: "AI", Subcategory: "Trainer", Company: "Anthropic", IsCompliant: true, IsAITrainer: true, Intent: "training"},
			{Pattern: `Claude-User`, Type: "fetcher", Category: "AI", Subcategory: "Assistant", Company: "Anthropic", IsCompliant: true, Intent: "user-request"},
			{Pattern: `Claude-SearchBot`, Type: "crawler", Category: "AI", Subcategory: "Search", Company: "Anthropic", IsCompliant: true, Intent: "search"},
			{Pattern: `anthropic-ai`, Type: "crawler", Category: "AI", Subcategory: "Trainer", Company: "Anthropic", IsCompliant: true, IsAITrainer: true, Intent: "training"},

			// Google
			{Pattern: `Google-Extended`, Type: "crawler", Category: "AI", Subcategory: "Trainer", Company: "Google", IsCompliant: true, IsAITrainer: true, Intent: "training"},
			{Pattern: `Googlebot`, Type: "crawler", Category: "Search Engine", Subcategory: "Indexer", Company: "Google", IsCompliant: true, Intent: "search"},
			{Pattern: `GoogleOther`, Type: "crawler", Category: "Search Engine", Subcategory: "Research", Company: "Google", IsCompliant: true},

			// Microsoft
			{Pattern: `[Bb]ingbot`, Type: "crawler", Category: "Search Engine", Subcategory: "Indexer", Company: "Microsoft", IsCompliant: true, Intent: "search"},
			{Pattern: `BingPreview`, Type: "fetcher", Category: "Search Engine", Subcategory: "Preview", Company: "Microsoft", IsCompliant: true},

			// Perplexity
			{Pattern: `PerplexityBot`, Type: "crawler", Category: "AI", Subcategory: "Search", Company: "Perplexity", IsCompliant: true, Intent: "search"},
			{Pattern: `Perplexity-User`, Type: "fetcher", Category: "AI", Subcategory: "Assistant", Company: "Perplexity", IsCompliant: true, Intent: "user-request"},

			// Meta
			{Pattern: `meta-externalagent`, Type: "crawler", Category: "AI", Subcategory: "Trainer", Company: "Meta", IsCompliant: true, IsAITrainer: true, Intent: "training"},
			{Pattern: `meta-externalfetcher`, Type: "fetcher", Category: "AI", Subcategory: "Assistant", Company: "Meta", IsCompliant: true},
			{Pattern: `FacebookBot`, Type: "crawler", Category: "Social", Subcategory: "Preview", Company: "Meta", IsCompliant: true},

			// Other AI crawlers
			{Pattern: `CCBot`, Type: "crawler", Category: "AI", Subcategory: "Trainer", Company: "Common Crawl", IsCompliant: true, IsAITrainer: true, Intent: "training"},
			{Pattern: `Bytespider`, Type: "crawler", Category: "AI", Subcategory: "Trainer", Company: "ByteDance", IsAITrainer: true, Intent: "training"},
			{Pattern: `Amazonbot`, Type: "crawler", Category: "AI", Subcategory: "Search", Company: "Amazon", IsCompliant: true},
			{Pattern: `Applebot-Extended`, Type: "crawler", Category: "AI", Subcategory: "Trainer", Company: "Apple", IsCompliant: true, IsAITrainer: true, Intent: "training"},
			{Pattern: `Applebot`, Type: "crawler", Category: "Search Engine", Subcategory: "Indexer", Company: "Apple", IsCompliant: true, Intent: "search"},
			{Pattern: `cohere-ai`, Type: "crawler", Category: "AI", Subcategory: "Trainer", Company: "Cohere", IsAITrainer: true, Intent: "training"},
			{Pattern: `Diffbot`, Type: "crawler", Category: "AI", Subcategory: "Scraper", Company: "Diffbot", IsAITrainer: true},
			{Pattern: `DuckDuckBot`, Type: "crawler", Category: "Search Engine", Subcategory: "Indexer", Company: "DuckDuckGo", IsCompliant: true, Intent: "search"},
			{Pattern: `Baiduspider`, Type: "crawler", Category: "Search Engine", Subcategory: "Indexer", Company: "Baidu", IsCompliant: true, Intent: "search"},
			{Pattern: `YandexBot`, Type: "crawler", Category: "Search Engine", Subcategory: "Indexer", Company: "Yandex", IsCompliant: true, Intent: "search"},

			// HTTP tooling and automation
			{Pattern: `(?i)curl/`, Type: "library", Category: "HTTP Client", Subcategory: "CLI", Company: ""},
			{Pattern: `[Ww]get/`, Type: "library", Category: "HTTP Client", Subcategory: "CLI"},
			{Pattern: `python-requests`, Type: "library", Category: "HTTP Client", Subcategory: "Library"},
			{Pattern: `python-httpx`, Type: "library", Category: "HTTP Client", Subcategory: "Library"},
			{Pattern: `aiohttp`, Type: "library", Category: "HTTP Client", Subcategory: "Library"},
			{Pattern: `Go-http-client`, Type: "library", Category: "HTTP Client", Subcategory: "Library"},
			{Pattern: `Scrapy`, Type: "crawler", Category: "Automation", Subcategory: "Scraper"},
			{Pattern: `HeadlessChrome`, Type: "browser", Category: "Automation", Subcategory: "Headless"},
			{Pattern: `PhantomJS`, Type: "browser", Category: "Automation", Subcategory: "Headless"},
		},
		AIReferrers: []types.Referrer{
			{ID: "chatgpt", Name: "ChatGPT", Company: "OpenAI", URL: "https://chatgpt.com", Patterns: []string{`chat\.openai\.com`, `chatgpt\.com`}},
			{ID: "claude", Name: "Claude", Company: "Anthropic", URL: "https://claude.ai", Patterns: []string{`claude\.ai`}},
			{ID: "perplexity", Name: "Perplexity", Company: "Perplexity", URL: "https://perplexity.ai", Patterns: []string{`perplexity\.ai`}},
			{ID: "gemini", Name: "Gemini", Company: "Google", URL: "https://gemini.google.com", Patterns: []string{`gemini\.google\.com`, `bard\.google\.com`}},
			{ID: "copilot", Name: "Copilot", Company: "Microsoft", URL: "https://copilot.microsoft.com", Patterns: []string{`copilot\.microsoft\.com`, `bing\.com/chat`}},
			{ID: "deepseek", Name: "DeepSeek", Company: "DeepSeek", URL: "https://chat.deepseek.com", Patterns: []string{`chat\.deepseek\.com`}},
			{ID: "you", Name: "You.com", Company: "You.com", URL: "https://you.com", Patterns: []string{`you\.com`}},
			{ID: "phind", Name: "Phind", Company: "Phind", URL: "https://phind.com", Patterns: []string{`phind\.com`}},
		},
	}
}
