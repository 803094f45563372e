package pb

// Engine is engine.proto, spoken by every payment channel engine. Amounts
// are decimal strings in quantums.
var Engine = compile("engine/engine.proto", "engine",
	message("Empty"),
	message("AddressResponse", str("address")),
	message("BalanceRequest", str("address"), str("amount"), boolean("outbound")),
	message("BalanceResponse", boolean("sufficient")),
	message("Invoice", str("payment_request")),
	message("SwapRequest",
		str("order_id"),
		str("swap_hash"),
		str("maker_address"),
		str("amount"),
	),
	message("SwapHashResponse", str("swap_hash")),
	message("PreimageResponse", str("swap_preimage")),
)
