package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/inviti8/hvym-pinner/internal/types"
)

// NodeProbe is the Verifier's view of the local storage node's control API,
// used to run the three verification methods against a claimant.
type NodeProbe interface {
	FindProviders(ctx context.Context, cid types.CID, limit int) ([]string, error)
	Connect(ctx context.Context, networkAddress string) error
	GetBlock(ctx context.Context, cid types.CID) ([]byte, error)
	Cat(ctx context.Context, cid types.CID, maxBytes int) ([]byte, error)
}

// HTTPNodeProbe drives the same storage-node HTTP control API the Storage
// Executor uses, adding the DHT/swarm/block endpoints the Verifier needs.
type HTTPNodeProbe struct {
	httpClient *http.Client
	rpcURL     string
}

// NewHTTPNodeProbe constructs a probe bound to the local storage node.
func NewHTTPNodeProbe(rpcURL string, timeout time.Duration) *HTTPNodeProbe {
	return &HTTPNodeProbe{httpClient: &http.Client{Timeout: timeout}, rpcURL: rpcURL}
}

// FindProviders queries the DHT for up to limit providers of cid.
func (p *HTTPNodeProbe) FindProviders(ctx context.Context, cid types.CID, limit int) ([]string, error) {
	endpoint := fmt.Sprintf("%s/api/v0/routing/findprovs?arg=%s&num-providers=%d", p.rpcURL, url.QueryEscape(string(cid)), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routing/findprovs returned %d", resp.StatusCode)
	}

	// The node streams one JSON object per line, each possibly naming a
	// provider's peer ID under Responses[].ID.
	var ids []string
	dec := json.NewDecoder(resp.Body)
	for {
		var line struct {
			Responses []struct {
				ID string `json:"ID"`
			} `json:"Responses"`
		}
		if err := dec.Decode(&line); err != nil {
			if err == io.EOF {
				break
			}
			break
		}
		for _, r := range line.Responses {
			if r.ID != "" {
				ids = append(ids, r.ID)
			}
		}
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// Connect asks the local node to dial networkAddress directly.
func (p *HTTPNodeProbe) Connect(ctx context.Context, networkAddress string) error {
	endpoint := fmt.Sprintf("%s/api/v0/swarm/connect?arg=%s", p.rpcURL, url.QueryEscape(networkAddress))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("swarm/connect returned %d", resp.StatusCode)
	}
	return nil
}

// GetBlock requests a specific content-addressed block from the local node.
func (p *HTTPNodeProbe) GetBlock(ctx context.Context, cid types.CID) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/v0/block/get?arg=%s", p.rpcURL, url.QueryEscape(string(cid)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("block/get returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Cat retrieves up to maxBytes of cid's content via the local node.
func (p *HTTPNodeProbe) Cat(ctx context.Context, cid types.CID, maxBytes int) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/v0/cat?arg=%s&length=%d", p.rpcURL, url.QueryEscape(string(cid)), maxBytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cat returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, int64(maxBytes)))
}
