package api

import "github.com/ethereum/go-ethereum/common/hexutil"

// API request and response types for REST endpoints and WebSocket messages.
// Token amounts and Q64.96 prices travel as decimal strings.

// ==============================
// REST Response Types
// ==============================

// GridInfo describes one grid and its current slot0
type GridInfo struct {
	ID         string `json:"id"`
	Token0     string `json:"token0"`
	Token1     string `json:"token1"`
	Resolution int32  `json:"resolution"`
	PriceX96   string `json:"priceX96"`
	Price      string `json:"price"` // token1 per token0, 18 decimals
	Boundary   int32  `json:"boundary"`
	Status     string `json:"status"` // "active" or "paused"
}

// BookLevel is one boundary with resting maker liquidity
type BookLevel struct {
	BoundaryLower        int32  `json:"boundaryLower"`
	MakerAmountRemaining string `json:"makerAmountRemaining"`
}

// BooksSnapshot lists one side of a grid, nearest boundary first
type BooksSnapshot struct {
	GridID    string      `json:"gridId"`
	Zero      bool        `json:"zero"`
	Levels    []BookLevel `json:"levels"`
	Timestamp int64       `json:"timestamp"` // Unix milliseconds
}

// OrderInfo is a maker order as stored in its grid
type OrderInfo struct {
	ID            uint64 `json:"id"`
	Owner         string `json:"owner"`
	Zero          bool   `json:"zero"`
	BoundaryLower int32  `json:"boundaryLower"`
	Amount        string `json:"amount"`
	Remaining     string `json:"remaining"`
	Proceeds      string `json:"proceeds"`
	Cancelled     bool   `json:"cancelled"`
}

// SwapInfo is one executed swap hop from the grid's history
type SwapInfo struct {
	ID         string `json:"id"`
	ZeroForOne bool   `json:"zeroForOne"`
	ExactInput bool   `json:"exactInput"`
	AmountIn   string `json:"amountIn"`
	AmountOut  string `json:"amountOut"`
	PriceX96   string `json:"priceX96"`
	Boundary   int32  `json:"boundary"`
	Timestamp  int64  `json:"timestamp"` // Unix milliseconds
}

// HopInfo is one leg of a quote or an executed swap
type HopInfo struct {
	GridID            string `json:"gridId,omitempty"`
	TokenIn           string `json:"tokenIn"`
	TokenOut          string `json:"tokenOut"`
	Resolution        int32  `json:"resolution"`
	AmountIn          string `json:"amountIn"`
	AmountOut         string `json:"amountOut"`
	PriceAfter        string `json:"priceAfter"`
	BoundariesCrossed uint32 `json:"boundariesCrossed"`
}

// QuoteResponse mirrors the quoter output. The lists follow the encoded path
// order.
type QuoteResponse struct {
	QuoteID                          string    `json:"quoteId"`
	Amount                           string    `json:"amount"`
	PriceAfterList                   []string  `json:"priceAfterList"`
	InitializedBoundariesCrossedList []uint32  `json:"initializedBoundariesCrossedList"`
	Hops                             []HopInfo `json:"hops"`
}

type SwapResponse struct {
	SwapID    string    `json:"swapId"`
	AmountIn  string    `json:"amountIn"`
	AmountOut string    `json:"amountOut"`
	Hops      []HopInfo `json:"hops"`
}

type PathHop struct {
	TokenIn    string `json:"tokenIn"`
	TokenOut   string `json:"tokenOut"`
	Protocol   uint8  `json:"protocol"`
	Resolution int32  `json:"resolution"`
}

type PathResponse struct {
	Path hexutil.Bytes `json:"path"`
	Hops []PathHop     `json:"hops"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Grids     int    `json:"grids"`
	StateHash string `json:"stateHash"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// Request Types
// ==============================

// CreateGridRequest sets the starting price with exactly one of PriceX96,
// Price (decimal token1 per token0) or Boundary.
type CreateGridRequest struct {
	TokenA     string `json:"tokenA"`
	TokenB     string `json:"tokenB"`
	Resolution int32  `json:"resolution"`
	PriceX96   string `json:"priceX96,omitempty"`
	Price      string `json:"price,omitempty"`
	Boundary   *int32 `json:"boundary,omitempty"`
}

type CreateGridResponse struct {
	ID string `json:"id"`
}

// MakerOrderRequest carries an EIP-712 signed maker order. The grid comes
// from the URL.
type MakerOrderRequest struct {
	Zero          bool          `json:"zero"`
	BoundaryLower int32         `json:"boundaryLower"`
	Amount        string        `json:"amount"`
	Nonce         string        `json:"nonce"`
	Owner         string        `json:"owner"`
	Signature     hexutil.Bytes `json:"signature"`
}

type MakerOrderResponse struct {
	Status  string `json:"status"`
	OrderID uint64 `json:"orderId"`
}

// CancelOrderRequest carries an EIP-712 signed cancel
type CancelOrderRequest struct {
	OrderID   uint64        `json:"orderId"`
	Nonce     string        `json:"nonce"`
	Owner     string        `json:"owner"`
	Signature hexutil.Bytes `json:"signature"`
}

type CancelOrderResponse struct {
	Status   string `json:"status"`
	OrderID  uint64 `json:"orderId"`
	Refund   string `json:"refund"`
	Proceeds string `json:"proceeds"`
}

// QuoteRequest quotes Amount along Path. Exact-output paths are encoded
// output-first.
type QuoteRequest struct {
	Path   hexutil.Bytes `json:"path"`
	Amount string        `json:"amount"`
}

// SwapRequest executes along Path. Limit is the minimum output for exact
// input and the maximum input for exact output; empty means no limit.
type SwapRequest struct {
	Path       hexutil.Bytes `json:"path"`
	ExactInput bool          `json:"exactInput"`
	Amount     string        `json:"amount"`
	Limit      string        `json:"limit,omitempty"`
}

// PathEncodeRequest lists n+1 tokens and n resolutions. Protocols default to
// the grid protocol.
type PathEncodeRequest struct {
	Tokens      []string `json:"tokens"`
	Resolutions []int32  `json:"resolutions"`
	Protocols   []uint8  `json:"protocols,omitempty"`
}

type PathDecodeRequest struct {
	Path hexutil.Bytes `json:"path"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest subscribes to or unsubscribes from channels such as
// "grid:0xabc..."
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSAck answers a subscription request. Type is "subscribed",
// "unsubscribed" or "error".
type WSAck struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Slot0Update is pushed on grid:{id} after every swap through the grid
type Slot0Update struct {
	Type      string `json:"type"` // "slot0"
	GridID    string `json:"gridId"`
	SwapID    string `json:"swapId"`
	PriceX96  string `json:"priceX96"`
	Boundary  int32  `json:"boundary"`
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}
