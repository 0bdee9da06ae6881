package venue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"TickPilot/internal/domain/models"
)

// Outbound messages. Field order is the wire order.

type authorizeRequest struct {
	Authorize string `json:"authorize"`
}

type ticksRequest struct {
	Ticks string `json:"ticks"`
}

type pingRequest struct {
	Ping int `json:"ping"`
}

type contractsRequest struct {
	ProposalOpenContract int `json:"proposal_open_contract"`
	Subscribe            int `json:"subscribe"`
}

type buyParameters struct {
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
}

type passthrough struct {
	CustomTradeID string `json:"custom_trade_id,omitempty"`
}

type buyRequest struct {
	Buy         string        `json:"buy"`
	Price       float64       `json:"price"`
	Parameters  buyParameters `json:"parameters"`
	Passthrough passthrough   `json:"passthrough"`
}

// EncodeAuthorize encodes {"authorize":token}.
func EncodeAuthorize(token string) ([]byte, error) {
	return json.Marshal(authorizeRequest{Authorize: token})
}

// EncodeTicks encodes {"ticks":symbol}.
func EncodeTicks(symbol string) ([]byte, error) {
	return json.Marshal(ticksRequest{Ticks: symbol})
}

// EncodePing encodes {"ping":1}.
func EncodePing() ([]byte, error) {
	return json.Marshal(pingRequest{Ping: 1})
}

// EncodeContracts encodes {"proposal_open_contract":1,"subscribe":1}.
func EncodeContracts() ([]byte, error) {
	return json.Marshal(contractsRequest{ProposalOpenContract: 1, Subscribe: 1})
}

// EncodeBuy encodes a stake-basis buy.
func EncodeBuy(r models.BuyRequest) ([]byte, error) {
	return json.Marshal(buyRequest{
		Buy:   "1",
		Price: r.Price,
		Parameters: buyParameters{
			Amount:       r.Amount,
			Basis:        "stake",
			ContractType: r.ContractType,
			Currency:     r.Currency,
			Duration:     r.Duration,
			DurationUnit: r.DurationUnit,
			Symbol:       r.Symbol,
		},
		Passthrough: passthrough{CustomTradeID: r.CorrelationID},
	})
}

// Inbound envelope: msg_type plus whichever payloads the venue attached.
type envelope struct {
	MsgType     models.MsgType `json:"msg_type"`
	Error       *errorBody     `json:"error"`
	Passthrough *passthrough   `json:"passthrough"`

	Authorize *struct {
		Balance  float64 `json:"balance"`
		Email    string  `json:"email"`
		LoginID  string  `json:"loginid"`
		Currency string  `json:"currency"`
	} `json:"authorize"`

	Tick *struct {
		Epoch  int64       `json:"epoch"`
		Quote  json.Number `json:"quote"`
		Symbol string      `json:"symbol"`
	} `json:"tick"`

	Buy *struct {
		ContractID   int64   `json:"contract_id"`
		BuyPrice     float64 `json:"buy_price"`
		BalanceAfter float64 `json:"balance_after"`
	} `json:"buy"`

	Contract *struct {
		ContractID int64       `json:"contract_id"`
		Status     string      `json:"status"`
		Profit     json.Number `json:"profit"`
		IsSold     int         `json:"is_sold"`
	} `json:"proposal_open_contract"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrIgnored marks frames that decode fine but carry nothing to route, such
// as pong replies or contract updates without a contract id.
var ErrIgnored = errors.New("venue: frame ignored")

// Decode parses one inbound frame. It returns ErrIgnored for frames that need
// no handling and a wrapped error for malformed payloads.
func Decode(b []byte) (models.VenueEvent, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return models.VenueEvent{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Error != nil {
		return models.VenueEvent{Type: models.MsgError, Err: &models.VenueError{
			Code: env.Error.Code, Message: env.Error.Message, MsgType: env.MsgType,
		}}, nil
	}

	switch env.MsgType {
	case models.MsgAuthorize:
		if env.Authorize == nil || env.Authorize.LoginID == "" {
			return models.VenueEvent{}, fmt.Errorf("decode authorize: missing loginid")
		}
		a := env.Authorize
		return models.VenueEvent{Type: models.MsgAuthorize, Auth: &models.Authorization{
			AccountID: a.LoginID, Email: a.Email, Currency: a.Currency, Balance: a.Balance,
		}}, nil

	case models.MsgTick:
		if env.Tick == nil || env.Tick.Epoch == 0 {
			return models.VenueEvent{}, fmt.Errorf("decode tick: missing epoch")
		}
		q, err := number(env.Tick.Quote)
		if err != nil {
			return models.VenueEvent{}, fmt.Errorf("decode tick quote: %w", err)
		}
		return models.VenueEvent{Type: models.MsgTick, Tick: &models.Tick{Epoch: env.Tick.Epoch, Quote: q}}, nil

	case models.MsgBuy:
		if env.Buy == nil || env.Buy.ContractID == 0 {
			return models.VenueEvent{}, fmt.Errorf("decode buy: missing contract_id")
		}
		ack := &models.BuyAck{
			ContractID:   env.Buy.ContractID,
			BuyPrice:     env.Buy.BuyPrice,
			BalanceAfter: env.Buy.BalanceAfter,
		}
		if env.Passthrough != nil {
			ack.CorrelationID = env.Passthrough.CustomTradeID
		}
		return models.VenueEvent{Type: models.MsgBuy, Buy: ack}, nil

	case models.MsgContract:
		// the subscription acknowledgement carries an empty object
		if env.Contract == nil || env.Contract.ContractID == 0 {
			return models.VenueEvent{}, ErrIgnored
		}
		profit, err := number(env.Contract.Profit)
		if err != nil {
			return models.VenueEvent{}, fmt.Errorf("decode contract profit: %w", err)
		}
		return models.VenueEvent{Type: models.MsgContract, Contract: &models.Settlement{
			ContractID: env.Contract.ContractID,
			Status:     env.Contract.Status,
			Profit:     profit,
			IsSold:     env.Contract.IsSold == 1,
		}}, nil

	case models.MsgPing, "ticks":
		return models.VenueEvent{}, ErrIgnored
	}
	return models.VenueEvent{}, fmt.Errorf("decode frame: unknown msg_type %q", env.MsgType)
}

// number accepts both JSON numbers and numeric strings; an absent value is 0.
func number(n json.Number) (float64, error) {
	if n == "" {
		return 0, nil
	}
	return strconv.ParseFloat(string(n), 64)
}
