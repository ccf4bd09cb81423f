package models

import "github.com/bytedance/sonic"

// DocumentSearchPayload is the JSON text returned by the document_search tool.
type DocumentSearchPayload struct {
	Answer       string      `json:"answer"`
	Hits         []Hit       `json:"hits"`
	WebHits      []WebResult `json:"web_hits,omitempty"`
	UsedFallback bool        `json:"used_fallback"`
}

// WebSearchPayload is the JSON text returned by the web_search tool.
// Exactly one of Hits or Error is meaningful.
type WebSearchPayload struct {
	Hits  []WebResult `json:"hits,omitempty"`
	Error string      `json:"error,omitempty"`
}

// MarshalJSON emits {"error":...} when Error is set and {"hits":[...]} otherwise.
func (p WebSearchPayload) MarshalJSON() ([]byte, error) {
	if p.Error != "" {
		return sonic.Marshal(map[string]string{"error": p.Error})
	}
	hits := p.Hits
	if hits == nil {
		hits = []WebResult{}
	}
	return sonic.Marshal(struct {
		Hits []WebResult `json:"hits"`
	}{hits})
}

// DocumentSearchArgs are the arguments of document_search.
type DocumentSearchArgs struct {
	Query   string   `json:"query"`
	TopK    int      `json:"top_k,omitempty"`
	Sources []string `json:"sources"`
}

// WebSearchArgs are the arguments of web_search.
type WebSearchArgs struct {
	Query string `json:"query"`
}
