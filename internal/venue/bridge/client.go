// Package bridge implements the venue interface over a WebSocket JSON
// bridge process running beside the trading terminal. One request frame
// yields one response frame, matched by id; the connection is kept
// alive with pings and re-established with backoff when it drops.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sigengine/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 30 * time.Second
)

// Compile-time interface check.
var _ domain.Venue = (*Client)(nil)

// Config holds the bridge connection parameters.
type Config struct {
	Endpoint    string
	Token       string
	CallTimeout time.Duration
}

type callReply struct {
	resp response
	err  error
}

// Client is the WebSocket bridge venue. Safe for use from the tick
// goroutine while the read and ping loops run in the background.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex // guards conn and closed
	conn    *websocket.Conn
	closed  bool
	writeMu sync.Mutex // serializes frame writes

	pendingMu sync.Mutex
	pending   map[string]chan callReply

	done chan struct{}
}

// New creates a Client. Call Connect before use.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "bridge")),
		pending: make(map[string]chan callReply),
		done:    make(chan struct{}),
	}
}

// Connect dials the bridge, authenticates and starts the read and ping
// loops. It is also used internally after a connection drop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("bridge: connect: %w", domain.ErrBridgeClosed)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("bridge: connect %s: %w", c.cfg.Endpoint, err)
	}

	// Authenticate synchronously before serving calls on this conn.
	if err := hello(conn, c.cfg.Token); err != nil {
		conn.Close()
		return err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.conn = conn
	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Info("bridge connected", slog.String("endpoint", c.cfg.Endpoint))
	return nil
}

// hello performs the auth handshake on a fresh connection.
func hello(conn *websocket.Conn, token string) error {
	req := request{ID: uuid.NewString(), Method: methodHello}
	if token != "" {
		params, err := json.Marshal(helloParams{Token: token})
		if err != nil {
			return fmt.Errorf("bridge: marshal hello: %w", err)
		}
		req.Params = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("bridge: marshal hello: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("bridge: send hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(writeWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("bridge: read hello reply: %w", err)
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("bridge: decode hello reply: %w", err)
	}
	if resp.Error != nil {
		return resp.Error.toError(methodHello)
	}
	return nil
}

// Close shuts the connection down and fails all in-flight calls.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	c.failPending()

	if c.conn != nil {
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return c.conn.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Venue interface
// ---------------------------------------------------------------------------

// Quote fetches the current top of book.
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var res quoteResult
	if err := c.call(ctx, methodQuote, symbolParams{Symbol: symbol}, &res); err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{
		Symbol: res.Symbol,
		Bid:    res.Bid,
		Ask:    res.Ask,
		At:     time.Unix(res.At, 0).UTC(),
	}, nil
}

// SymbolSpec fetches the instrument parameters.
func (c *Client) SymbolSpec(ctx context.Context, symbol string) (domain.SymbolSpec, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var res specResult
	if err := c.call(ctx, methodSymbolSpec, symbolParams{Symbol: symbol}, &res); err != nil {
		return domain.SymbolSpec{}, err
	}
	return domain.SymbolSpec{
		Symbol:       res.Symbol,
		Digits:       res.Digits,
		Point:        res.Point,
		VolumeMin:    res.VolumeMin,
		VolumeMax:    res.VolumeMax,
		VolumeStep:   res.VolumeStep,
		ContractSize: res.ContractSize,
	}, nil
}

// PlaceMarketOrder submits a market order; venue rejections come back
// wrapping ErrOrderRejected.
func (c *Client) PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var res orderResult
	err := c.call(ctx, methodOrderPlace, orderParams{
		Symbol:     req.Symbol,
		Direction:  string(req.Direction),
		Volume:     req.Volume,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Tag:        req.Tag,
		Comment:    req.Comment,
	}, &res)
	if err != nil {
		return domain.OrderResult{}, err
	}
	return domain.OrderResult{PositionID: res.PositionID, Price: res.Price}, nil
}

// ModifyPositionStops replaces the stop and target of an open position.
func (c *Client) ModifyPositionStops(ctx context.Context, positionID int64, stopLoss, takeProfit float64) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	return c.call(ctx, methodModifyStops, modifyParams{
		PositionID: positionID,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}, nil)
}

// ClosePosition closes an open position at market.
func (c *Client) ClosePosition(ctx context.Context, positionID int64) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	return c.call(ctx, methodCloseByID, closeParams{PositionID: positionID}, nil)
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	return c.call(ctx, methodCancelOrder, cancelParams{OrderID: orderID}, nil)
}

// Positions lists open positions, filtered by symbol and tag when set.
func (c *Client) Positions(ctx context.Context, symbol string, tag int) ([]domain.Position, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var res positionListResult
	if err := c.call(ctx, methodPositionList, listParams{Symbol: symbol, Tag: tag}, &res); err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(res.Positions))
	for _, p := range res.Positions {
		out = append(out, p.toDomain())
	}
	return out, nil
}

// PendingOrders lists resting orders with the same filters.
func (c *Client) PendingOrders(ctx context.Context, symbol string, tag int) ([]domain.PendingOrder, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var res orderListResult
	if err := c.call(ctx, methodOrderList, listParams{Symbol: symbol, Tag: tag}, &res); err != nil {
		return nil, err
	}
	out := make([]domain.PendingOrder, 0, len(res.Orders))
	for _, o := range res.Orders {
		out = append(out, domain.PendingOrder{ID: o.ID, Symbol: o.Symbol, Tag: o.Tag, Comment: o.Comment})
	}
	return out, nil
}

// Deals fetches account deal history closed in [from, to].
func (c *Client) Deals(ctx context.Context, from, to time.Time) ([]domain.Deal, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var res dealHistoryResult
	if err := c.call(ctx, methodDealHistory, dealHistoryParams{From: from.Unix(), To: to.Unix()}, &res); err != nil {
		return nil, err
	}
	out := make([]domain.Deal, 0, len(res.Deals))
	for _, d := range res.Deals {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// AccountInfo fetches the live account snapshot.
func (c *Client) AccountInfo(ctx context.Context) (domain.AccountInfo, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var res accountInfoResult
	if err := c.call(ctx, methodAccountInfo, nil, &res); err != nil {
		return domain.AccountInfo{}, err
	}
	return domain.AccountInfo{Equity: res.Equity, Balance: res.Balance, Currency: res.Currency}, nil
}

// PriceAt fetches the instrument's price at a historical instant;
// missing bars come back wrapping ErrNoHistory.
func (c *Client) PriceAt(ctx context.Context, symbol string, at time.Time) (float64, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var res historyPriceResult
	if err := c.call(ctx, methodHistoryPrice, historyPriceParams{Symbol: symbol, At: at.Unix()}, &res); err != nil {
		return 0, err
	}
	return res.Price, nil
}

// ---------------------------------------------------------------------------
// Internal methods
// ---------------------------------------------------------------------------

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.CallTimeout)
	}
	return ctx, func() {}
}

// call sends one request frame and waits for its reply.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	req := request{ID: uuid.NewString(), Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("bridge: marshal %s params: %w", method, err)
		}
		req.Params = data
	}

	ch := make(chan callReply, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.send(req); err != nil {
		return fmt.Errorf("bridge: send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("bridge: %s: %w", method, ctx.Err())
	case <-c.done:
		return fmt.Errorf("bridge: %s: %w", method, domain.ErrBridgeClosed)
	case reply := <-ch:
		if reply.err != nil {
			return fmt.Errorf("bridge: %s: %w", method, reply.err)
		}
		if reply.resp.Error != nil {
			return reply.resp.Error.toError(method)
		}
		if result != nil && len(reply.resp.Result) > 0 {
			if err := json.Unmarshal(reply.resp.Result, result); err != nil {
				return fmt.Errorf("bridge: decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) send(req request) error {
	c.mu.RLock()
	conn := c.conn
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return domain.ErrBridgeClosed
	}
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads reply frames off one connection and routes them to
// waiting calls. On a read error it fails everything in flight and
// hands off to the reconnect loop.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("bridge read failed, reconnecting",
				slog.String("error", err.Error()),
			)
			c.failPending()
			c.reconnect()
			return // a fresh readLoop runs on the new connection
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Warn("bridge frame unparseable",
			slog.String("error", err.Error()),
		)
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("bridge reply for unknown call",
			slog.String("call_id", resp.ID),
		)
		return
	}
	ch <- callReply{resp: resp}
}

// failPending unblocks every in-flight call with ErrBridgeClosed.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- callReply{err: domain.ErrBridgeClosed}
		delete(c.pending, id)
	}
}

// pingLoop keeps the connection alive until it dies or the client
// closes.
func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (c *Client) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-c.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		c.logger.Warn("bridge reconnect failed",
			slog.String("error", err.Error()),
			slog.Duration("next_attempt_in", delay),
		)
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (e *wireError) toError(method string) error {
	switch e.Code {
	case codeUnauthorized:
		return fmt.Errorf("bridge: %s: unauthorized: %s", method, e.Message)
	case codeUnknownSymbol:
		return fmt.Errorf("bridge: %s: unknown symbol: %s", method, e.Message)
	case codeOrderRejected:
		return fmt.Errorf("bridge: %s: %s: %w", method, e.Message, domain.ErrOrderRejected)
	case codePositionNotFound:
		return fmt.Errorf("bridge: %s: %s: %w", method, e.Message, domain.ErrNotFound)
	case codeNoHistory:
		return fmt.Errorf("bridge: %s: %s: %w", method, e.Message, domain.ErrNoHistory)
	default:
		return fmt.Errorf("bridge: %s: %s (code %d)", method, e.Message, e.Code)
	}
}
