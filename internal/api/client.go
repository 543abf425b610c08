package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/zkbitcoin/committee/pkg/party"
	"github.com/zkbitcoin/committee/protocols/frost/sign"
)

// maxResponseBytes bounds the size of a response body we are willing to read.
const maxResponseBytes = 1 << 20

// MemberClient talks to a remote committee member.
type MemberClient struct {
	id      party.ID
	address string
	client  *http.Client
}

// NewMemberClient returns a client for member id reachable at address.
//
// A nil client uses http.DefaultClient. Deadlines come from the contexts.
func NewMemberClient(id party.ID, address string, client *http.Client) *MemberClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &MemberClient{id: id, address: strings.TrimRight(address, "/"), client: client}
}

// ID returns the member's ID.
func (c *MemberClient) ID() party.ID {
	return c.id
}

// BeginSession calls POST /session/begin.
func (c *MemberClient) BeginSession(ctx context.Context, sessionID uuid.UUID, message []byte) (*sign.Commitment, error) {
	var commitment sign.Commitment
	req := &SessionBeginRequest{SessionID: sessionID, Message: message}
	if err := c.post(ctx, "/session/begin", req, &commitment); err != nil {
		return nil, err
	}
	if commitment.ID != c.id {
		return nil, fmt.Errorf("api.MemberClient: commitment from %s, expected %s", commitment.ID, c.id)
	}
	return &commitment, nil
}

// Sign calls POST /session/sign.
func (c *MemberClient) Sign(ctx context.Context, sessionID uuid.UUID, commitments []*sign.Commitment, message []byte) (*sign.Share, error) {
	var share sign.Share
	req := &SessionSignRequest{SessionID: sessionID, Commitments: commitments, Message: message}
	if err := c.post(ctx, "/session/sign", req, &share); err != nil {
		return nil, err
	}
	if share.ID != c.id {
		return nil, fmt.Errorf("api.MemberClient: share from %s, expected %s", share.ID, c.id)
	}
	return &share, nil
}

func (c *MemberClient) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := cbor.Marshal(in)
	if err != nil {
		return fmt.Errorf("api.MemberClient: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("api.MemberClient: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeCBOR)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Wrap(ErrPeerTimeout, err)
		}
		return fmt.Errorf("api.MemberClient: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("api.MemberClient: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		remote := new(Error)
		if cbor.Unmarshal(data, remote) != nil || remote.Code == "" {
			return fmt.Errorf("api.MemberClient: status %d", resp.StatusCode)
		}
		return remote
	}
	if err = cbor.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api.MemberClient: %w", err)
	}
	return nil
}

// OrchestratorClient is used by Bob to submit requests.
type OrchestratorClient struct {
	address string
	client  *http.Client
}

// NewOrchestratorClient returns a client for the orchestrator at address.
func NewOrchestratorClient(address string, client *http.Client) *OrchestratorClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &OrchestratorClient{address: strings.TrimRight(address, "/"), client: client}
}

// Use calls POST /bob.
func (c *OrchestratorClient) Use(ctx context.Context, request *UseRequest) (*UseResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("api.OrchestratorClient: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address+"/bob", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("api.OrchestratorClient: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeJSON)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api.OrchestratorClient: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("api.OrchestratorClient: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		remote := new(Error)
		if json.Unmarshal(data, remote) != nil || remote.Code == "" {
			return nil, fmt.Errorf("api.OrchestratorClient: status %d", resp.StatusCode)
		}
		return nil, remote
	}
	out := new(UseResponse)
	if err = json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("api.OrchestratorClient: %w", err)
	}
	return out, nil
}
