package bridge

import (
	"encoding/json"
	"time"

	"sigengine/internal/domain"
)

// Wire protocol: one JSON text frame per message. Requests carry a
// client-generated id echoed back by the bridge; timestamps travel as
// unix seconds so neither side argues about zones.

type request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Bridge error codes.
const (
	codeUnauthorized     = 1001
	codeUnknownSymbol    = 2001
	codeOrderRejected    = 3001
	codePositionNotFound = 3002
	codeNoHistory        = 4001
)

// Methods served by the terminal bridge.
const (
	methodHello        = "session.hello"
	methodQuote        = "quote.get"
	methodSymbolSpec   = "symbol.spec"
	methodOrderPlace   = "order.place"
	methodModifyStops  = "position.modify"
	methodCloseByID    = "position.close"
	methodCancelOrder  = "order.cancel"
	methodPositionList = "position.list"
	methodOrderList    = "order.list"
	methodDealHistory  = "deal.history"
	methodHistoryPrice = "history.price"
	methodAccountInfo  = "account.info"
)

type helloParams struct {
	Token string `json:"token,omitempty"`
}

type symbolParams struct {
	Symbol string `json:"symbol"`
}

type quoteResult struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	At     int64   `json:"at"`
}

type specResult struct {
	Symbol       string  `json:"symbol"`
	Digits       int     `json:"digits"`
	Point        float64 `json:"point"`
	VolumeMin    float64 `json:"volume_min"`
	VolumeMax    float64 `json:"volume_max"`
	VolumeStep   float64 `json:"volume_step"`
	ContractSize float64 `json:"contract_size"`
}

type orderParams struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Volume     float64 `json:"volume"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Tag        int     `json:"tag,omitempty"`
	Comment    string  `json:"comment,omitempty"`
}

type orderResult struct {
	PositionID int64   `json:"position_id"`
	Price      float64 `json:"price"`
}

type modifyParams struct {
	PositionID int64   `json:"position_id"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

type closeParams struct {
	PositionID int64 `json:"position_id"`
}

type cancelParams struct {
	OrderID int64 `json:"order_id"`
}

type listParams struct {
	Symbol string `json:"symbol,omitempty"`
	Tag    int    `json:"tag,omitempty"`
}

type positionMsg struct {
	ID           int64   `json:"id"`
	Symbol       string  `json:"symbol"`
	Direction    string  `json:"direction"`
	Volume       float64 `json:"volume"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	Tag          int     `json:"tag"`
	Comment      string  `json:"comment"`
	OpenedAt     int64   `json:"opened_at"`
	Profit       float64 `json:"profit"`
}

type positionListResult struct {
	Positions []positionMsg `json:"positions"`
}

type orderMsg struct {
	ID      int64  `json:"id"`
	Symbol  string `json:"symbol"`
	Tag     int    `json:"tag"`
	Comment string `json:"comment"`
}

type orderListResult struct {
	Orders []orderMsg `json:"orders"`
}

type dealHistoryParams struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

type dealMsg struct {
	ID         int64   `json:"id"`
	PositionID int64   `json:"position_id"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price"`
	Profit     float64 `json:"profit"`
	Commission float64 `json:"commission"`
	Swap       float64 `json:"swap"`
	Tag        int     `json:"tag"`
	Comment    string  `json:"comment"`
	OpenedAt   int64   `json:"opened_at"`
	ClosedAt   int64   `json:"closed_at"`
}

type dealHistoryResult struct {
	Deals []dealMsg `json:"deals"`
}

type historyPriceParams struct {
	Symbol string `json:"symbol"`
	At     int64  `json:"at"`
}

type historyPriceResult struct {
	Price float64 `json:"price"`
}

type accountInfoResult struct {
	Equity   float64 `json:"equity"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

func (m positionMsg) toDomain() domain.Position {
	dir, err := domain.ParseDirection(m.Direction)
	if err != nil {
		dir = domain.Direction(m.Direction)
	}
	return domain.Position{
		ID:           m.ID,
		Symbol:       m.Symbol,
		Direction:    dir,
		Volume:       m.Volume,
		EntryPrice:   m.EntryPrice,
		CurrentPrice: m.CurrentPrice,
		StopLoss:     m.StopLoss,
		TakeProfit:   m.TakeProfit,
		Tag:          m.Tag,
		Comment:      m.Comment,
		OpenedAt:     time.Unix(m.OpenedAt, 0).UTC(),
		Profit:       m.Profit,
	}
}

func (m dealMsg) toDomain() domain.Deal {
	dir, err := domain.ParseDirection(m.Direction)
	if err != nil {
		dir = domain.Direction(m.Direction)
	}
	return domain.Deal{
		ID:         m.ID,
		PositionID: m.PositionID,
		Symbol:     m.Symbol,
		Direction:  dir,
		Volume:     m.Volume,
		Price:      m.Price,
		Profit:     m.Profit,
		Commission: m.Commission,
		Swap:       m.Swap,
		Tag:        m.Tag,
		Comment:    m.Comment,
		OpenedAt:   time.Unix(m.OpenedAt, 0).UTC(),
		ClosedAt:   time.Unix(m.ClosedAt, 0).UTC(),
	}
}
