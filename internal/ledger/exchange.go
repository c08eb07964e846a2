package ledger

import (
	"context"
	"fmt"

	"card-ledger/internal/storages"
	"card-ledger/pkg"
	"github.com/shopspring/decimal"
)

// ExchangeRequest обмен криптоактива с крипто-карты на фиат на карту получателя
type ExchangeRequest struct {
	SourceAccountID    int64
	FromCurrency       storages.Currency
	ToCurrency         storages.Currency
	FromAmount         decimal.Decimal
	DestinationAccount string
}

// CreateExchange списывает BTC или ETH с крипто-карты и зачисляет эквивалент
// в USD или UAH на фиатную карту
func (e *Engine) CreateExchange(ctx context.Context, req ExchangeRequest) (*storages.Transaction, error) {
	if err := pkg.ValidateAmount(req.FromAmount); err != nil {
		return nil, invalid("amount", "%v", err)
	}
	if !req.FromCurrency.IsCrypto() {
		return nil, invalid("from_currency", "%q is not a crypto asset", req.FromCurrency)
	}
	if req.ToCurrency != storages.CurrencyUSD && req.ToCurrency != storages.CurrencyUAH {
		return nil, invalid("to_currency", "%q is not a fiat currency", req.ToCurrency)
	}
	to := pkg.NormalizeCardNumber(req.DestinationAccount)
	if err := pkg.ValidateCardNumber(to); err != nil {
		return nil, invalid("destination", "%v", err)
	}

	var p *posting
	err := e.runUnit(ctx, "exchange", func(tx storages.Tx) error {
		var err error
		p, err = e.planExchange(ctx, tx, req, to)
		if err != nil {
			return err
		}
		return e.apply(ctx, tx, p)
	})
	if err != nil {
		e.logger.Errorf("Exchange %s->%s from account %d failed: %v", req.FromCurrency, req.ToCurrency, req.SourceAccountID, err)
		return nil, err
	}

	e.logger.Infof("Exchange #%d completed: %s -> %s",
		p.principal.ID, p.sourceCurrency.Format(req.FromAmount), p.destCurrency.Format(p.credit))

	e.valueInUSD(p)
	e.published(ctx, p)
	return p.principal, nil
}

func (e *Engine) planExchange(ctx context.Context, tx storages.Tx, req ExchangeRequest, to string) (*posting, error) {
	dest, err := findDestination(ctx, tx, to)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		return nil, &NotFoundError{Entity: "destination account", Ref: pkg.MaskCardNumber(to)}
	}
	if dest.Kind.Currency() != req.ToCurrency {
		return nil, invalid("destination", "account %s does not hold %s", pkg.MaskCardNumber(dest.Number), req.ToCurrency)
	}

	source, dest, err := lockPair(ctx, tx, req.SourceAccountID, dest)
	if err != nil {
		return nil, err
	}
	if !source.IsCrypto() {
		return nil, invalid("source", "account %s is not a crypto account", pkg.MaskCardNumber(source.Number))
	}

	p := &posting{
		source:         source,
		sourceCurrency: req.FromCurrency,
		dest:           dest,
		destCurrency:   req.ToCurrency,
	}

	if err := pkg.ValidatePrecision(req.FromAmount, p.sourceCurrency.Precision()); err != nil {
		return nil, invalid("amount", "%v", err)
	}

	rates, err := e.latestRates()
	if err != nil {
		return nil, err
	}

	commission := e.commissionFor(req.FromAmount, p.sourceCurrency)
	p.debit = req.FromAmount.Add(commission)
	if err := checkFunds(p); err != nil {
		return nil, err
	}

	if p.credit, err = Convert(req.FromAmount, p.sourceCurrency, p.destCurrency, rates); err != nil {
		return nil, err
	}
	p.regulatorCredit = btcValue(commission, p.sourceCurrency, rates)

	if p.regulator, err = lockRegulator(ctx, tx); err != nil {
		return nil, err
	}

	destID := dest.ID
	p.principal = &storages.Transaction{
		FromAccountID:     source.ID,
		ToAccountID:       &destID,
		FromNumber:        source.Number,
		ToNumber:          dest.Number,
		Amount:            req.FromAmount,
		Currency:          p.sourceCurrency,
		ConvertedAmount:   p.credit,
		ConvertedCurrency: p.destCurrency,
		Kind:              storages.TransactionKindExchange,
		Description: fmt.Sprintf("Exchange %s to %s",
			p.sourceCurrency.Format(req.FromAmount), p.destCurrency.Format(p.credit)),
	}
	return p, nil
}
