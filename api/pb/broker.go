package pb

// Broker is broker/v1/broker.proto, the API brokerd serves.
var Broker = compile("broker/v1/broker.proto", "broker.v1",
	message("Empty"),
	message("MarketRequest", str("market")),
	message("BlockOrderRequest", str("block_order_id")),
	message("CreateBlockOrderRequest",
		str("market"),
		str("side"),
		str("amount"),
		str("price"),
		str("time_in_force"),
	),
	message("CreateBlockOrderResponse", str("block_order_id")),
	message("CancelResponse",
		repeated(str("cancelled_orders")),
		repeated(str("failed_to_cancel_orders")),
	),
	message("Child",
		str("id"),
		str("state"),
		str("amount"),
		str("price"),
		str("error"),
		str("updated"),
	),
	message("BlockOrder",
		str("block_order_id"),
		str("market"),
		str("side"),
		str("amount"),
		str("price"),
		str("time_in_force"),
		str("status"),
		str("datetime"),
		str("failure_reason"),
		repeated(msg("orders", "Child")),
		repeated(msg("fills", "Child")),
	),
	message("BlockOrdersResponse", repeated(msg("block_orders", "BlockOrder"))),
	message("BlockOrderTrade",
		str("id"),
		str("block_order_id"),
		str("type"),
		str("side"),
		str("state"),
		str("base_symbol"),
		str("counter_symbol"),
		str("amount"),
		str("price"),
		str("datetime"),
	),
	message("TradeHistoryResponse", repeated(msg("trades", "BlockOrderTrade"))),
	message("PriceAmount", str("price"), str("amount")),
	message("OrderbookResponse",
		str("timestamp"),
		str("datetime"),
		repeated(msg("bids", "PriceAmount")),
		repeated(msg("asks", "PriceAmount")),
	),
	message("GetTradesRequest", str("market"), str("since"), int32f("limit")),
	message("MarketTrade",
		str("id"),
		str("order_id"),
		str("timestamp"),
		str("datetime"),
		str("market"),
		str("side"),
		str("amount"),
		str("price"),
	),
	message("TradesResponse", repeated(msg("trades", "MarketTrade"))),
	message("Market",
		str("id"),
		str("symbol"),
		str("base"),
		str("counter"),
		boolean("active"),
	),
	message("MarketsResponse", repeated(msg("markets", "Market"))),
	message("GetActiveFundsRequest", str("market"), str("side")),
	message("ActiveFundsResponse",
		str("outbound_symbol"),
		str("active_outbound_amount"),
		str("inbound_symbol"),
		str("active_inbound_amount"),
	),
	message("EngineStatus", str("symbol"), str("status")),
	message("OrderbookStatus", str("market"), str("status")),
	message("HealthCheckResponse",
		str("relayer_status"),
		repeated(msg("engine_status", "EngineStatus")),
		repeated(msg("orderbook_status", "OrderbookStatus")),
	),
	message("Order",
		str("order_id"),
		str("created_at"),
		str("base_amount"),
		str("counter_amount"),
		str("side"),
		str("base_symbol"),
		str("counter_symbol"),
	),
	// order is unset on the SYNC marker.
	message("WatchMarketResponse", str("type"), msg("order", "Order")),
)
