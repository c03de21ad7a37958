package store

import (
	"encoding/json"
	"strings"
	"time"

	"gachalab/internal/models"
)

// SpinLayout names the physical shape of the outcome log. The legacy
// gacha_results table keeps the result in result_type and the redeem inside a
// JSON payload; spins keeps both as plain columns.
type SpinLayout string

const (
	LayoutSpins        SpinLayout = "spins"
	LayoutGachaResults SpinLayout = "gacha_results"
)

func ParseSpinLayout(val string) SpinLayout {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case string(LayoutGachaResults), "legacy":
		return LayoutGachaResults
	default:
		return LayoutSpins
	}
}

func (l SpinLayout) Table() string {
	if l == LayoutGachaResults {
		return string(LayoutGachaResults)
	}
	return string(LayoutSpins)
}

// ResultColumn is the column the outcome is written to.
func (l SpinLayout) ResultColumn() string {
	if l == LayoutGachaResults {
		return "result_type"
	}
	return "result"
}

type legacyPayload struct {
	Status string           `json:"status"`
	Result models.Result    `json:"result"`
	Redeem *legacyRedeemRef `json:"redeem"`
}

type legacyRedeemRef struct {
	Code       string `json:"code,omitempty"`
	RedeemCode string `json:"redeem_code,omitempty"`
}

// Row renders rec as the column set written for this layout.
func (l SpinLayout) Row(rec models.SpinRecord) map[string]any {
	row := map[string]any{
		"id":               rec.ID,
		"gacha_id":         rec.GachaID,
		"user_id":          rec.UserID,
		"guest_token_hash": rec.GuestTokenHash,
		"created_at":       rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if l != LayoutGachaResults {
		row["result"] = rec.Result
		row["redeem_code"] = rec.RedeemCode
		return row
	}
	payload := legacyPayload{Status: "SPUN", Result: rec.Result}
	if rec.RedeemCode != nil {
		payload.Redeem = &legacyRedeemRef{Code: *rec.RedeemCode}
	}
	raw, _ := json.Marshal(payload)
	row["result_type"] = rec.Result
	row["payload"] = json.RawMessage(raw)
	row["version"] = 1
	return row
}

// SelectColumns is the projection used by lookups; every layout is aliased
// onto the SpinRow columns so one decoder serves both.
func (l SpinLayout) SelectColumns() []string {
	if l == LayoutGachaResults {
		return []string{"id", "gacha_id", "user_id", "guest_token_hash", "result_type", "payload", "created_at"}
	}
	return []string{"id", "gacha_id", "user_id", "guest_token_hash", "result", "redeem_code", "created_at"}
}

// SpinRow decodes a spin log row of either layout.
type SpinRow struct {
	ID             string          `json:"id" db:"id"`
	GachaID        string          `json:"gacha_id" db:"gacha_id"`
	UserID         *string         `json:"user_id" db:"user_id"`
	GuestTokenHash *string         `json:"guest_token_hash" db:"guest_token_hash"`
	Result         *string         `json:"result" db:"result"`
	ResultType     *string         `json:"result_type" db:"result_type"`
	RedeemCode     *string         `json:"redeem_code" db:"redeem_code"`
	Payload        json.RawMessage `json:"payload" db:"-"`
	PayloadBytes   []byte          `json:"-" db:"payload"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

func (r SpinRow) Record() models.SpinRecord {
	rec := models.SpinRecord{
		ID:             r.ID,
		GachaID:        r.GachaID,
		UserID:         r.UserID,
		GuestTokenHash: r.GuestTokenHash,
		RedeemCode:     r.RedeemCode,
		CreatedAt:      r.CreatedAt,
	}
	switch {
	case r.Result != nil && *r.Result != "":
		rec.Result = models.Result(*r.Result)
	case r.ResultType != nil && *r.ResultType != "":
		rec.Result = models.Result(*r.ResultType)
	}
	payload := r.Payload
	if len(payload) == 0 {
		payload = r.PayloadBytes
	}
	if rec.RedeemCode == nil && len(payload) > 0 {
		var p legacyPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			if rec.Result == "" {
				rec.Result = p.Result
			}
			if p.Redeem != nil {
				code := p.Redeem.Code
				if code == "" {
					code = p.Redeem.RedeemCode
				}
				rec.RedeemCode = models.StringPtr(code)
			}
		}
	}
	return rec
}
