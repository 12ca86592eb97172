package events

// Event enumerates high-level topics inside the engine.
type Event string

const (
	EventPriceTick          Event = "price_tick"
	EventOrderSubmitted     Event = "order.submitted"
	EventOrderAccepted      Event = "order.accepted"
	EventOrderRejected      Event = "order.rejected"
	EventOrderFilled        Event = "order.filled"
	EventStrategySignal     Event = "strategy_signal"
	EventPositionChange     Event = "position_change"
	EventRiskAlert          Event = "risk_alert"
	EventVolatilityWarning  Event = "volatility_warning"
	EventNewsUpdate         Event = "news_update"
	EventEngineState        Event = "engine_state"
	EventMarketAccessError  Event = "market_access_error"
	EventStrategyTransition Event = "strategy_transition"
)
