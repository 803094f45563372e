package pb

// Relayer is the part of relayer.proto the broker uses. Invoice fields are
// flattened into the responses that carry them.
var Relayer = compile("relayer/relayer.proto", "relayer",
	message("Empty"),
	message("GetPublicKeyResponse", str("public_key")),
	message("GetMarketsResponse", repeated(str("markets"))),
	message("GetAddressRequest", str("symbol")),
	message("GetAddressResponse", str("address")),
	message("CreateOrderRequest",
		str("base_symbol"),
		str("counter_symbol"),
		str("base_amount"),
		str("counter_amount"),
		str("side"),
		str("maker_base_address"),
		str("maker_counter_address"),
	),
	message("CreateOrderResponse",
		str("order_id"),
		str("fee_payment_request"),
		boolean("fee_required"),
		str("deposit_payment_request"),
		boolean("deposit_required"),
	),
	message("PlaceOrderRequest",
		str("order_id"),
		str("fee_refund_payment_request"),
		str("deposit_refund_payment_request"),
	),
	message("OrderRequest", str("order_id")),
	message("FillTerms",
		str("fill_id"),
		str("fill_amount"),
		str("swap_hash"),
		str("taker_address"),
	),
	message("SubscribeOrderResponse", int32f("type"), msg("fill", "FillTerms")),
	message("CompleteOrderRequest", str("order_id"), str("swap_preimage")),
	message("CreateFillRequest",
		str("order_id"),
		str("swap_hash"),
		str("fill_amount"),
		str("taker_base_address"),
		str("taker_counter_address"),
	),
	message("CreateFillResponse",
		str("fill_id"),
		str("fee_payment_request"),
		boolean("fee_required"),
		str("deposit_payment_request"),
		boolean("deposit_required"),
	),
	message("FillOrderRequest",
		str("fill_id"),
		str("fee_refund_payment_request"),
		str("deposit_refund_payment_request"),
	),
	message("SubscribeExecuteRequest", str("fill_id")),
	message("SubscribeExecuteResponse", str("maker_address")),
	message("WatchMarketRequest",
		str("base_symbol"),
		str("counter_symbol"),
		str("last_updated"),
		uint64f("sequence"),
	),
	message("MarketEventPayload",
		str("base_amount"),
		str("counter_amount"),
		str("side"),
	),
	message("MarketEvent",
		str("event_id"),
		str("order_id"),
		str("timestamp"),
		uint64f("event_number"),
		str("type"),
		msg("payload", "MarketEventPayload"),
	),
	message("WatchMarketResponse",
		int32f("type"),
		msg("market_event", "MarketEvent"),
		bytesf("checksum"),
	),
)
