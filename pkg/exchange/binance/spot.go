package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"github.com/solbot-labs/engine/pkg/core"
)

// Spot is a core.Exchange adapter over Binance's spot market (spec §6).
type Spot struct {
	ctx        context.Context
	client     *binance.Client
	quoteAsset string

	mu         sync.RWMutex
	assetsInfo map[string]core.AssetInfo
}

// SpotOption configures a Spot client.
type SpotOption func(*Spot)

// WithCredentials sets the API credentials for the Spot client.
func WithCredentials(key, secret string) SpotOption {
	return func(s *Spot) { s.client = binance.NewClient(key, secret) }
}

// WithQuoteAsset sets the asset core.Account.Balance is reported in
// (default USDT); the engine trades one symbol so its account view is
// single-currency rather than Binance's full balance list.
func WithQuoteAsset(asset string) SpotOption {
	return func(s *Spot) { s.quoteAsset = asset }
}

// WithTestNet enables the Binance testnet.
func WithTestNet() SpotOption {
	return func(_ *Spot) { binance.UseTestnet = true }
}

// NewSpot creates a new Binance spot exchange client, fetching exchangeInfo
// once up front to seed the AssetInfo cache (lot/tick sizes).
func NewSpot(ctx context.Context, options ...SpotOption) (*Spot, error) {
	binance.WebsocketKeepalive = true

	spot := &Spot{
		ctx:        ctx,
		client:     binance.NewClient("", ""),
		quoteAsset: "USDT",
		assetsInfo: make(map[string]core.AssetInfo),
	}

	for _, option := range options {
		option(spot)
	}

	if err := spot.client.NewPingService().Do(ctx); err != nil {
		return nil, fmt.Errorf("binance: ping: %w", err)
	}

	exchangeInfo, err := spot.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: exchange info: %w", err)
	}

	spot.mu.Lock()
	for _, info := range exchangeInfo.Symbols {
		assetInfo := core.AssetInfo{
			BaseAsset:          info.BaseAsset,
			QuoteAsset:         info.QuoteAsset,
			BaseAssetPrecision: info.BaseAssetPrecision,
			QuotePrecision:     info.QuotePrecision,
		}
		for _, filter := range info.Filters {
			typ, ok := filter["filterType"]
			if !ok {
				continue
			}
			if typ == string(binance.SymbolFilterTypeLotSize) {
				assetInfo.MinQuantity, _ = strconv.ParseFloat(filter["minQty"].(string), 64)
				assetInfo.MaxQuantity, _ = strconv.ParseFloat(filter["maxQty"].(string), 64)
				assetInfo.StepSize, _ = strconv.ParseFloat(filter["stepSize"].(string), 64)
			}
			if typ == string(binance.SymbolFilterTypePriceFilter) {
				assetInfo.MinPrice, _ = strconv.ParseFloat(filter["minPrice"].(string), 64)
				assetInfo.MaxPrice, _ = strconv.ParseFloat(filter["maxPrice"].(string), 64)
				assetInfo.TickSize, _ = strconv.ParseFloat(filter["tickSize"].(string), 64)
			}
		}
		spot.assetsInfo[info.Symbol] = assetInfo
	}
	spot.mu.Unlock()

	return spot, nil
}

// ID satisfies core.Exchange.
func (s *Spot) ID() string { return "binance" }

// SupportsOCO satisfies core.Exchange: Binance spot has native OCO.
func (s *Spot) SupportsOCO() bool { return true }

// AssetsInfo returns the cached lot/tick metadata for pair.
func (s *Spot) AssetsInfo(pair string) (core.AssetInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.assetsInfo[pair]
	if !ok {
		return core.AssetInfo{}, fmt.Errorf("binance: unknown pair %s", pair)
	}
	return info, nil
}

func (s *Spot) formatQuantity(pair string, value float64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return formatQuantity(s.assetsInfo, pair, value)
}

func (s *Spot) formatPrice(pair string, value float64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return formatPrice(s.assetsInfo, pair, value)
}

func (s *Spot) validate(pair string, quantity float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return validateOrder(s.assetsInfo, pair, quantity)
}

// LastQuote gets the latest traded price for a pair.
func (s *Spot) LastQuote(ctx context.Context, pair string) (float64, error) {
	candles, err := s.CandlesByLimit(ctx, pair, "1m", 1)
	if err != nil || len(candles) < 1 {
		return 0, err
	}
	return candles[0].Close, nil
}

// Account reports the configured quote asset's balance (spec §3's
// single-symbol Account view; open Positions are PositionBook's concern,
// not the venue's).
func (s *Spot) Account(ctx context.Context) (core.Account, error) {
	acc, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return core.Account{}, fmt.Errorf("binance: account: %w", err)
	}

	for _, balance := range acc.Balances {
		if balance.Asset != s.quoteAsset {
			continue
		}
		free, _ := strconv.ParseFloat(balance.Free, 64)
		locked, _ := strconv.ParseFloat(balance.Locked, 64)
		return core.Account{Balance: free + locked, Available: free}, nil
	}
	return core.Account{}, nil
}

// Position reports the free asset/quote balances for pair (spec §6.3 —
// distinct from PositionBook's OMS-tracked strategy position).
func (s *Spot) Position(ctx context.Context, pair string) (asset, quote float64, err error) {
	assetTick, quoteTick := SplitAssetQuote(pair)
	acc, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("binance: position: %w", err)
	}

	for _, balance := range acc.Balances {
		free, _ := strconv.ParseFloat(balance.Free, 64)
		locked, _ := strconv.ParseFloat(balance.Locked, 64)
		switch balance.Asset {
		case assetTick:
			asset = free + locked
		case quoteTick:
			quote = free + locked
		}
	}
	return asset, quote, nil
}

// FetchOrder retrieves the current venue state for a previously placed order.
func (s *Spot) FetchOrder(ctx context.Context, pair, exchangeID string) (core.Order, error) {
	id, err := strconv.ParseInt(exchangeID, 10, 64)
	if err != nil {
		return core.Order{}, fmt.Errorf("binance: fetch order: invalid exchange id %q: %w", exchangeID, err)
	}
	order, err := s.client.NewGetOrderService().Symbol(pair).OrderID(id).Do(ctx)
	if err != nil {
		return core.Order{}, fmt.Errorf("binance: fetch order: %w", err)
	}
	return convertBinanceOrder(order), nil
}

// FetchOpenOrders lists every order the venue still considers active for pair.
func (s *Spot) FetchOpenOrders(ctx context.Context, pair string) ([]core.Order, error) {
	result, err := s.client.NewListOpenOrdersService().Symbol(pair).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: open orders: %w", err)
	}
	orders := make([]core.Order, 0, len(result))
	for _, o := range result {
		orders = append(orders, convertBinanceOrder(o))
	}
	return orders, nil
}

// PlaceOrder submits order to the venue. MARKET orders never set a price
// (spec §4.7). Network/5xx errors are classified retryable for the OMS's
// backoff; venue-rejected orders (4xx, filter violations) are terminal.
func (s *Spot) PlaceOrder(ctx context.Context, order core.Order) (string, error) {
	if err := s.validate(order.Pair, order.Amount); err != nil {
		return "", &core.PlacementError{Err: err, Retryable: false, Code: "INVALID_QUANTITY"}
	}

	svc := s.client.NewCreateOrderService().
		Symbol(order.Pair).
		Side(binance.SideType(order.Side)).
		Quantity(s.formatQuantity(order.Pair, order.Amount))

	switch order.Type {
	case core.OrderTypeMarket:
		svc = svc.Type(binance.OrderTypeMarket)
	case core.OrderTypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(s.formatPrice(order.Pair, order.Price))
	case core.OrderTypeLimitMaker:
		svc = svc.Type(binance.OrderTypeLimitMaker).
			Price(s.formatPrice(order.Pair, order.Price))
	case core.OrderTypeStop, core.OrderTypeStopLimit:
		svc = svc.Type(binance.OrderTypeStopLossLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(s.formatPrice(order.Pair, order.Price)).
			StopPrice(s.formatPrice(order.Pair, order.StopPrice))
	default:
		return "", &core.PlacementError{Err: fmt.Errorf("unsupported order type %s", order.Type), Retryable: false, Code: "UNSUPPORTED_TYPE"}
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return "", &core.PlacementError{Err: err, Retryable: isRetryable(err), Code: "VENUE_ERROR"}
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// CancelOrder cancels an order at the venue.
func (s *Spot) CancelOrder(ctx context.Context, pair, exchangeID string) error {
	id, err := strconv.ParseInt(exchangeID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: cancel: invalid exchange id %q: %w", exchangeID, err)
	}
	_, err = s.client.NewCancelOrderService().Symbol(pair).OrderID(id).Do(ctx)
	if err != nil {
		return fmt.Errorf("binance: cancel: %w", err)
	}
	return nil
}

// CreateOrderOCO places a native LIMIT+STOP_LOSS_LIMIT OCO pair.
func (s *Spot) CreateOrderOCO(ctx context.Context, side core.SideType, pair string,
	amount, price, stop, stopLimit float64) ([]core.Order, error) {

	if err := s.validate(pair, amount); err != nil {
		return nil, err
	}

	ocoOrder, err := s.client.NewCreateOCOService().
		Side(binance.SideType(side)).
		Quantity(s.formatQuantity(pair, amount)).
		Price(s.formatPrice(pair, price)).
		StopPrice(s.formatPrice(pair, stop)).
		StopLimitPrice(s.formatPrice(pair, stopLimit)).
		StopLimitTimeInForce(binance.TimeInForceTypeGTC).
		Symbol(pair).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: create oco: %w", err)
	}

	now := time.Unix(0, ocoOrder.TransactionTime*int64(time.Millisecond))
	orders := make([]core.Order, 0, len(ocoOrder.OrderReports))
	for _, o := range ocoOrder.OrderReports {
		price, _ := strconv.ParseFloat(o.Price, 64)
		amount, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		orders = append(orders, core.Order{
			ExchangeID: strconv.FormatInt(o.OrderID, 10),
			Exchange:   s.ID(),
			Pair:       pair,
			Side:       core.SideType(o.Side),
			Type:       convertBinanceOrderType(o.Type),
			Status:     convertBinanceStatus(o.Status),
			Price:      price,
			Amount:     amount,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return orders, nil
}

// CandlesSubscription streams live candles for (pair, period), reconnecting
// with a short bounded backoff on disconnect — distinct from the OMS's
// placement retry schedule, since a dropped market-data socket should
// reconnect fast rather than back off for a minute.
func (s *Spot) CandlesSubscription(ctx context.Context, pair, period string) (chan core.Candle, chan error) {
	candleChan := make(chan core.Candle)
	errChan := make(chan error)
	retry := setupBackoffRetry()

	go func() {
		for {
			done, _, err := binance.WsKlineServe(pair, period, func(event *binance.WsKlineEvent) {
				retry.Reset()
				candleChan <- convertWsKlineToCandle(pair, event.Kline)
			}, func(err error) {
				errChan <- err
			})

			if err != nil {
				errChan <- err
				close(errChan)
				close(candleChan)
				return
			}

			select {
			case <-ctx.Done():
				close(errChan)
				close(candleChan)
				return
			case <-done:
				time.Sleep(retry.Duration())
			}
		}
	}()

	return candleChan, errChan
}

// CandlesByLimit gets the most recent limit complete candles for a pair.
func (s *Spot) CandlesByLimit(ctx context.Context, pair, period string, limit int) ([]core.Candle, error) {
	data, err := s.client.NewKlinesService().
		Symbol(pair).Interval(period).Limit(limit + 1). // +1 to discard the incomplete candle
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: candles: %w", err)
	}

	candles := make([]core.Candle, 0, len(data)-1)
	for i, d := range data {
		if i == len(data)-1 {
			break
		}
		candles = append(candles, convertKlineToCandle(pair, *d))
	}
	return candles, nil
}

// CandlesByPeriod gets candles for a pair within [start, end).
func (s *Spot) CandlesByPeriod(ctx context.Context, pair, period string, start, end time.Time) ([]core.Candle, error) {
	data, err := s.client.NewKlinesService().
		Symbol(pair).Interval(period).
		StartTime(start.UnixNano() / int64(time.Millisecond)).
		EndTime(end.UnixNano() / int64(time.Millisecond)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: candles by period: %w", err)
	}

	candles := make([]core.Candle, 0, len(data))
	for _, d := range data {
		candles = append(candles, convertKlineToCandle(pair, *d))
	}
	return candles, nil
}

// convertBinanceOrder converts a Binance order response to a core.Order.
func convertBinanceOrder(order *binance.Order) core.Order {
	price, _ := strconv.ParseFloat(order.Price, 64)
	filled, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	amount, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	avgFillPrice := price
	if cost, err := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64); err == nil && filled > 0 {
		avgFillPrice = cost / filled
	}

	return core.Order{
		ExchangeID:   strconv.FormatInt(order.OrderID, 10),
		Pair:         order.Symbol,
		Side:         core.SideType(order.Side),
		Type:         convertBinanceOrderType(order.Type),
		Status:       convertBinanceStatus(order.Status),
		Price:        price,
		Amount:       amount,
		FilledAmount: filled,
		AvgFillPrice: avgFillPrice,
		CreatedAt:    time.Unix(0, order.Time*int64(time.Millisecond)),
		UpdatedAt:    time.Unix(0, order.UpdateTime*int64(time.Millisecond)),
	}
}

func convertBinanceOrderType(t binance.OrderType) core.OrderType {
	switch t {
	case binance.OrderTypeMarket:
		return core.OrderTypeMarket
	case binance.OrderTypeLimit:
		return core.OrderTypeLimit
	case binance.OrderTypeLimitMaker:
		return core.OrderTypeLimitMaker
	case binance.OrderTypeStopLoss, binance.OrderTypeStopLossLimit:
		return core.OrderTypeStopLimit
	default:
		return core.OrderType(t)
	}
}

func convertBinanceStatus(status binance.OrderStatusType) core.OrderStatusType {
	switch status {
	case binance.OrderStatusTypeNew:
		return core.OrderStatusPlaced
	case binance.OrderStatusTypePartiallyFilled:
		return core.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return core.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypePendingCancel, binance.OrderStatusTypeExpired:
		return core.OrderStatusCanceled
	case binance.OrderStatusTypeRejected:
		return core.OrderStatusRejected
	default:
		return core.OrderStatusPlaced
	}
}

func convertKlineToCandle(pair string, k binance.Kline) core.Candle {
	t := time.Unix(0, k.OpenTime*int64(time.Millisecond))
	candle := core.Candle{Pair: pair, Time: t, UpdatedAt: t, Complete: true}
	candle.Open, _ = strconv.ParseFloat(k.Open, 64)
	candle.Close, _ = strconv.ParseFloat(k.Close, 64)
	candle.High, _ = strconv.ParseFloat(k.High, 64)
	candle.Low, _ = strconv.ParseFloat(k.Low, 64)
	candle.Volume, _ = strconv.ParseFloat(k.Volume, 64)
	return candle
}

func convertWsKlineToCandle(pair string, k binance.WsKline) core.Candle {
	t := time.Unix(0, k.StartTime*int64(time.Millisecond))
	candle := core.Candle{Pair: pair, Time: t, UpdatedAt: t, Complete: k.IsFinal}
	candle.Open, _ = strconv.ParseFloat(k.Open, 64)
	candle.Close, _ = strconv.ParseFloat(k.Close, 64)
	candle.High, _ = strconv.ParseFloat(k.High, 64)
	candle.Low, _ = strconv.ParseFloat(k.Low, 64)
	candle.Volume, _ = strconv.ParseFloat(k.Volume, 64)
	return candle
}

// isRetryable classifies a Binance API error as retryable (network/5xx) vs
// terminal (4xx rejection), per spec §7.
func isRetryable(err error) bool {
	apiErr, ok := err.(*common.APIError)
	if !ok {
		return true // network/transport errors with no APIError wrapper
	}
	return apiErr.Code <= -1000 && apiErr.Code >= -1016 // server/timeout family
}
