package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jhoicas/stock-deduction/internal/application/deduction"
)

var _ deduction.ExternalLedger = (*HTTPClient)(nil)

// ErrUnauthorized el ledger externo rechazó la credencial.
var ErrUnauthorized = errors.New("ledger: credencial rechazada")

// StatusError respuesta no exitosa del ledger externo.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger %s: HTTP %d: %s", e.Op, e.Status, e.Body)
}

// HTTPClient cliente JSON del sistema de inventario externo.
// Usa net/http de la stdlib; el timeout por llamada lo acota además el contexto del llamador.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient construye el cliente. timeout <= 0 usa 30 s.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type stockResponse struct {
	ItemID    string `json:"item_id"`
	BinID     string `json:"bin_id"`
	Available int    `json:"available"`
}

type adjustmentRequest struct {
	ItemID       string `json:"item_id"`
	BinID        string `json:"bin_id"`
	WarehouseID  string `json:"warehouse_id,omitempty"`
	Delta        int    `json:"delta"`
	Reason       string `json:"reason"`
	ReferenceKey string `json:"reference_key"`
}

type adjustmentResponse struct {
	CorrelationID string `json:"correlation_id"`
}

// GetAvailableStock consulta la cantidad disponible autoritativa para (ítem, BIN).
func (c *HTTPClient) GetAvailableStock(ctx context.Context, itemID, binID string) (int, error) {
	q := url.Values{}
	q.Set("item_id", itemID)
	q.Set("bin_id", binID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/stock?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("ledger stock: crear request: %w", err)
	}
	var out stockResponse
	if err := c.do(req, "stock", &out); err != nil {
		return 0, err
	}
	return out.Available, nil
}

// PostAdjustment registra un ajuste de cantidad. IdempotencyKey viaja como Idempotency-Key para
// que un reintento del mismo ajuste no se aplique dos veces en el sistema externo; reference_key
// en el cuerpo es solo la referencia de negocio.
func (c *HTTPClient) PostAdjustment(ctx context.Context, adj deduction.Adjustment) (*deduction.AdjustmentReceipt, error) {
	if adj.IdempotencyKey == "" {
		return nil, errors.New("ledger adjustment: idempotency key vacía")
	}
	body, err := json.Marshal(adjustmentRequest{
		ItemID:       adj.ItemID,
		BinID:        adj.BinID,
		WarehouseID:  adj.WarehouseID,
		Delta:        adj.Delta,
		Reason:       adj.Reason,
		ReferenceKey: adj.ReferenceKey,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger adjustment: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/adjustments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ledger adjustment: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", adj.IdempotencyKey)

	var out adjustmentResponse
	if err := c.do(req, "adjustment", &out); err != nil {
		return nil, err
	}
	if out.CorrelationID == "" {
		return nil, fmt.Errorf("ledger adjustment: respuesta sin correlation_id")
	}
	return &deduction.AdjustmentReceipt{CorrelationID: out.CorrelationID}, nil
}

func (c *HTTPClient) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("ledger %s: leer respuesta: %w", op, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("ledger %s: %w", op, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ledger %s: decodificar respuesta: %w", op, err)
	}
	return nil
}
