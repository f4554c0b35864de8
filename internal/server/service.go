package server

import (
	"context"
	"fmt"
	"net/http"

	"PerpRisk/internal/core"
	"PerpRisk/internal/event"
	fpmath "PerpRisk/internal/math"
	"PerpRisk/internal/projection"
	"PerpRisk/internal/query"
	"PerpRisk/internal/state"
)

// ServiceName is the full gRPC service name.
const ServiceName = "perprisk.v1.RiskEngine"

// ServiceDeps holds the dependencies of the RiskEngine service. Query and
// Projections are optional; their history methods are only served when set.
type ServiceDeps struct {
	Engine      *core.Engine
	Query       *query.QueryService
	Projections *projection.Worker
}

// Service exposes every engine operation and the read side.
type Service struct {
	engine      *core.Engine
	history     *query.QueryService
	projections *projection.Worker
}

func NewService(deps ServiceDeps) *Service {
	return &Service{engine: deps.Engine, history: deps.Query, projections: deps.Projections}
}

func (s *Service) ack(err error) (Ack, error) {
	if err != nil {
		return Ack{}, err
	}
	return Ack{OK: true, Sequence: s.engine.Sequence()}, nil
}

// methods is the RiskEngine method table.
func (s *Service) methods() []rpc {
	e := s.engine
	ms := []rpc{
		// --- admin ---
		unary("InitializeConfig", http.MethodPost, "/v1/admin/config", nil,
			func(ctx context.Context, r *core.InitializeConfigRequest) (*state.Config, error) {
				return e.InitializeConfig(ctx, *r)
			}),
		unary("SetFeeDestination", http.MethodPost, "/v1/admin/fee-destination", nil,
			func(ctx context.Context, r *SetFeeDestinationRequest) (*state.Config, error) {
				return e.SetFeeDestination(ctx, r.Admin, r.Destination)
			}),
		unary("Pause", http.MethodPost, "/v1/admin/pause", nil,
			func(ctx context.Context, r *PauseRequest) (*state.Config, error) {
				return e.Pause(ctx, r.Admin, r.Paused)
			}),
		unary("UpdateRiskParameters", http.MethodPost, "/v1/admin/risk-parameters", nil,
			func(ctx context.Context, r *UpdateRiskParametersRequest) (*state.Config, error) {
				return e.UpdateRiskParameters(ctx, r.Admin, r.RiskUpdate)
			}),
		unary("CreateMarket", http.MethodPost, "/v1/admin/markets", nil,
			func(ctx context.Context, r *CreateMarketRequest) (*state.Market, error) {
				return e.CreateMarket(ctx, r.Admin, r.MarketParams)
			}),
		unary("EditMaxPosition", http.MethodPost, "/v1/admin/markets/max-position", nil,
			func(ctx context.Context, r *EditMaxPositionRequest) (*state.Market, error) {
				return e.EditMaxPosition(ctx, r.Admin, r.Symbol, r.MaxPositionBase)
			}),
		unary("SetMarketPaused", http.MethodPost, "/v1/admin/markets/pause", nil,
			func(ctx context.Context, r *SetMarketPausedRequest) (*state.Market, error) {
				return e.SetMarketPaused(ctx, r.Admin, r.Symbol, r.Paused)
			}),
		unary("DepositWallet", http.MethodPost, "/v1/admin/wallets/deposit", nil,
			func(ctx context.Context, r *DepositWalletRequest) (Ack, error) {
				return s.ack(e.DepositWallet(ctx, r.Admin, r.Owner, r.Amount))
			}),
		unary("SeedVault", http.MethodPost, "/v1/admin/vault/seed", nil,
			func(ctx context.Context, r *SeedVaultRequest) (Ack, error) {
				return s.ack(e.SeedVault(ctx, r.Admin, r.Amount))
			}),
		unary("Reconcile", http.MethodPost, "/v1/admin/reconcile", nil,
			func(ctx context.Context, _ *Empty) (Ack, error) {
				return s.ack(e.Reconcile(ctx))
			}),
		unary("GetConfig", http.MethodGet, "/v1/config", bindNone[Empty],
			func(ctx context.Context, _ *Empty) (*state.Config, error) {
				return e.Config(ctx)
			}),

		// --- oracle ---
		unary("UpdateOraclePrice", http.MethodPost, "/v1/oracle/prices", nil,
			func(ctx context.Context, r *core.PriceUpdate) (*state.OraclePrice, error) {
				return e.UpdateOraclePrice(ctx, *r)
			}),
		unary("GetOraclePrice", http.MethodGet, "/v1/oracle/prices", bindFeed,
			func(ctx context.Context, r *FeedRequest) (*state.OraclePrice, error) {
				return e.OraclePrice(ctx, r.Feed)
			}),
		unary("GetFallbackPrice", http.MethodGet, "/v1/oracle/fallback", bindFeed,
			func(ctx context.Context, r *FeedRequest) (PriceResponse, error) {
				p, err := e.FallbackPrice(ctx, r.Feed)
				return PriceResponse{Feed: r.Feed, PriceFP: p, Price: fpmath.FormatFP(p)}, err
			}),
		unary("GetMarketPrice", http.MethodGet, "/v1/markets/{symbol}/price", bindSymbol,
			func(ctx context.Context, r *SymbolRequest) (PriceResponse, error) {
				p, err := e.MarketPrice(ctx, r.Symbol)
				return PriceResponse{Symbol: r.Symbol, PriceFP: p, Price: fpmath.FormatFP(p)}, err
			}),

		// --- markets ---
		unary("ListMarkets", http.MethodGet, "/v1/markets", bindNone[Empty],
			func(ctx context.Context, _ *Empty) (MarketsResponse, error) {
				markets, err := e.Markets(ctx)
				return MarketsResponse{Markets: markets}, err
			}),
		unary("GetMarket", http.MethodGet, "/v1/markets/{symbol}", bindSymbol,
			func(ctx context.Context, r *SymbolRequest) (*state.Market, error) {
				return e.Market(ctx, r.Symbol)
			}),
		unary("ListPositions", http.MethodGet, "/v1/markets/{symbol}/positions", bindSymbol,
			func(ctx context.Context, r *SymbolRequest) (PositionsResponse, error) {
				ps, err := e.Positions(ctx, r.Symbol)
				return PositionsResponse{Positions: ps}, err
			}),
		unary("GetCandidates", http.MethodGet, "/v1/markets/{symbol}/candidates", bindSymbol,
			func(ctx context.Context, r *SymbolRequest) (*core.Candidates, error) {
				return e.Candidates(ctx, r.Symbol)
			}),
		unary("SettleFunding", http.MethodPost, "/v1/funding/settle", nil,
			func(ctx context.Context, r *SymbolRequest) (*core.FundingResult, error) {
				return e.SettleFunding(ctx, r.Symbol)
			}),

		// --- positions ---
		unary("OpenPosition", http.MethodPost, "/v1/positions/open", nil,
			func(ctx context.Context, r *core.OpenPositionRequest) (*state.UserPosition, error) {
				return e.OpenPosition(ctx, *r)
			}),
		unary("ClosePosition", http.MethodPost, "/v1/positions/close", nil,
			func(ctx context.Context, r *PositionRequest) (*core.CloseResult, error) {
				return e.ClosePosition(ctx, r.Owner, r.Symbol)
			}),
		unary("PartialClosePosition", http.MethodPost, "/v1/positions/partial-close", nil,
			func(ctx context.Context, r *PartialCloseRequest) (*core.CloseResult, error) {
				return e.PartialClosePosition(ctx, r.Owner, r.Symbol, r.Percentage)
			}),
		unary("ModifyPositionMargin", http.MethodPost, "/v1/positions/margin", nil,
			func(ctx context.Context, r *ModifyMarginRequest) (*state.UserPosition, error) {
				return e.ModifyPositionMargin(ctx, r.Owner, r.Symbol, r.Delta)
			}),
		unary("SetStopLoss", http.MethodPost, "/v1/positions/stop-loss", nil,
			func(ctx context.Context, r *SetStopLossRequest) (*state.StopLossOrder, error) {
				return e.SetStopLoss(ctx, r.Owner, r.Symbol, r.TriggerPriceFP, r.Percentage)
			}),
		unary("ExecuteStopLoss", http.MethodPost, "/v1/positions/stop-loss/execute", nil,
			func(ctx context.Context, r *ExecuteStopLossRequest) (*core.CloseResult, error) {
				return e.ExecuteStopLoss(ctx, r.Executor, r.Owner, r.Symbol)
			}),
		unary("Liquidate", http.MethodPost, "/v1/positions/liquidate", nil,
			func(ctx context.Context, r *LiquidateRequest) (*core.LiquidationResult, error) {
				return e.Liquidate(ctx, r.Liquidator, r.Owner, r.Symbol)
			}),
		unary("EnhancedLiquidate", http.MethodPost, "/v1/positions/liquidate-enhanced", nil,
			func(ctx context.Context, r *LiquidateRequest) (*core.LiquidationResult, error) {
				return e.EnhancedLiquidate(ctx, r.Liquidator, r.Owner, r.Symbol, r.MaxPercentage)
			}),
		unary("GetPosition", http.MethodGet, "/v1/positions/{owner}/{symbol}", bindPosition,
			func(ctx context.Context, r *PositionRequest) (PositionResponse, error) {
				v, err := e.ValuePosition(ctx, r.Owner, r.Symbol)
				if err != nil {
					return PositionResponse{}, err
				}
				return PositionResponse{
					Position:      v.Position,
					Valuation:     v.Valuation,
					Price:         fpmath.FormatFP(v.Valuation.PriceFP),
					UnrealizedPnl: fpmath.FormatFP(v.Valuation.UnrealizedPnlFP),
					Equity:        fpmath.FormatFP(v.Valuation.EquityFP),
				}, nil
			}),
		unary("GetStopLoss", http.MethodGet, "/v1/positions/{owner}/{symbol}/stop-loss", bindPosition,
			func(ctx context.Context, r *PositionRequest) (*state.StopLossOrder, error) {
				return e.StopLoss(ctx, r.Owner, r.Symbol)
			}),

		// --- insurance & wallets ---
		unary("DepositInsuranceFund", http.MethodPost, "/v1/insurance/deposit", nil,
			func(ctx context.Context, r *DepositInsuranceRequest) (*state.InsuranceFund, error) {
				return e.DepositInsuranceFund(ctx, r.Depositor, r.Amount)
			}),
		unary("WithdrawInsuranceFund", http.MethodPost, "/v1/insurance/withdraw", nil,
			func(ctx context.Context, r *WithdrawInsuranceRequest) (*state.InsuranceFund, error) {
				return e.WithdrawInsuranceFund(ctx, r.Admin, r.Recipient, r.Amount, r.Reason)
			}),
		unary("GetInsuranceFund", http.MethodGet, "/v1/insurance", bindNone[Empty],
			func(ctx context.Context, _ *Empty) (*state.InsuranceFund, error) {
				return e.InsuranceFund(ctx)
			}),
		unary("GetWalletBalance", http.MethodGet, "/v1/wallets/{owner}", bindOwner,
			func(ctx context.Context, r *OwnerRequest) (WalletResponse, error) {
				b, err := e.WalletBalance(ctx, r.Owner)
				return WalletResponse{Owner: r.Owner, Balance: b}, err
			}),
	}

	if p := s.projections; p != nil {
		ms = append(ms,
			unary("ListFundingHistory", http.MethodGet, "/v1/history/funding/{owner}", bindHistory,
				func(_ context.Context, r *HistoryRequest) (FundingHistoryResponse, error) {
					resp := FundingHistoryResponse{
						Entries:      p.Funding.QueryByUser(r.Owner, r.Symbol, query.ClampLimit(r.Limit)),
						AsOfSequence: p.LastSequence(),
					}
					if r.Symbol != "" {
						resp.NetPaidFP = p.Funding.NetPaidFP(r.Owner, r.Symbol)
						resp.NetPaid = fpmath.FormatFP(resp.NetPaidFP)
					}
					return resp, nil
				}),
			unary("ListLiquidationHistory", http.MethodGet, "/v1/history/liquidations/{owner}", bindHistory,
				func(_ context.Context, r *HistoryRequest) (LiquidationHistoryResponse, error) {
					return LiquidationHistoryResponse{
						Entries:      p.Liquidations.QueryByUser(r.Owner, r.Symbol, query.ClampLimit(r.Limit)),
						AsOfSequence: p.LastSequence(),
					}, nil
				}),
		)
	}

	if q := s.history; q != nil {
		ms = append(ms,
			unary("ListEvents", http.MethodGet, "/v1/history/events", bindEvents,
				func(ctx context.Context, r *EventsRequest) ([]query.EventRecord, error) {
					return q.Events(ctx, query.EventFilter{Symbol: r.Symbol, Type: r.Type, AfterSequence: r.After, Limit: r.Limit})
				}),
			unary("ListJournals", http.MethodGet, "/v1/history/journals/{owner}", bindJournals,
				func(ctx context.Context, r *JournalsRequest) ([]query.JournalHistoryEntry, error) {
					return q.GetJournalHistory(ctx, r.Owner, r.Limit, r.Before)
				}),
			unary("VerifyIntegrity", http.MethodGet, "/v1/admin/integrity", bindNone[Empty],
				func(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
					return q.VerifyIntegrity(ctx)
				}),
		)
	}
	return ms
}

// --- binders ---

func bindNone[T any](*T, params) error { return nil }

func bindSymbol(r *SymbolRequest, p params) (err error) {
	r.Symbol, err = p.required("symbol")
	return err
}

func bindFeed(r *FeedRequest, p params) (err error) {
	r.Feed, err = p.required("feed")
	return err
}

func bindOwner(r *OwnerRequest, p params) (err error) {
	r.Owner, err = p.uuid("owner")
	return err
}

func bindPosition(r *PositionRequest, p params) (err error) {
	if r.Owner, err = p.uuid("owner"); err != nil {
		return err
	}
	r.Symbol, err = p.required("symbol")
	return err
}

func bindHistory(r *HistoryRequest, p params) error {
	var err error
	if r.Owner, err = p.uuid("owner"); err != nil {
		return err
	}
	r.Symbol = p.str("symbol")
	limit, err := p.int64("limit", 0)
	r.Limit = int(limit)
	return err
}

func bindEvents(r *EventsRequest, p params) error {
	r.Symbol = p.str("symbol")
	r.Type = p.str("type")
	if _, ok := event.ParseEventType(r.Type); r.Type != "" && !ok {
		return fmt.Errorf("unknown event type %q", r.Type)
	}
	var err error
	if r.After, err = p.int64("after", 0); err != nil {
		return err
	}
	limit, err := p.int64("limit", 0)
	r.Limit = int(limit)
	return err
}

func bindJournals(r *JournalsRequest, p params) error {
	var err error
	if r.Owner, err = p.uuid("owner"); err != nil {
		return err
	}
	if r.Before, err = query.ParseCursor(p.str("before")); err != nil {
		return err
	}
	limit, err := p.int64("limit", 0)
	r.Limit = int(limit)
	return err
}
