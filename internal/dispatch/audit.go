package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// AuditIndex mirrors delivered notifications into a searchable store.
type AuditIndex interface {
	Index(ctx context.Context, n *Notification) error
}

// ElasticsearchAudit indexes notifications by id, so a repeated index call
// overwrites rather than duplicates.
type ElasticsearchAudit struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchAudit(client *elasticsearch.Client, index string) *ElasticsearchAudit {
	return &ElasticsearchAudit{client: client, index: index}
}

type auditDocument struct {
	*Notification
	TriggerOffset string `json:"triggerOffset,omitempty"`
}

func (a *ElasticsearchAudit) Index(ctx context.Context, n *Notification) error {
	doc := auditDocument{Notification: n}
	if n.TriggerOffset != nil {
		doc.TriggerOffset = n.TriggerOffset.String()
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode audit document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      a.index,
		DocumentID: n.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("index notification: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index notification: %s", res.Status())
	}
	return nil
}
