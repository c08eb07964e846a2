package ledger

import (
	"context"
	"fmt"

	"card-ledger/internal/storages"
	"card-ledger/pkg"
	"github.com/shopspring/decimal"
)

// TransferRequest перевод между картами по номеру карты получателя
type TransferRequest struct {
	FromAccountID int64
	To            string
	Amount        decimal.Decimal
}

// TransferSameOrCrossCurrency переводит сумму с карты на карту. Комиссия 1%
// списывается сверх суммы в валюте источника и зачисляется регулятору в BTC.
// Возвращает основную запись журнала.
func (e *Engine) TransferSameOrCrossCurrency(ctx context.Context, req TransferRequest) (*storages.Transaction, error) {
	if err := pkg.ValidateAmount(req.Amount); err != nil {
		return nil, invalid("amount", "%v", err)
	}
	to := pkg.NormalizeCardNumber(req.To)
	if err := pkg.ValidateCardNumber(to); err != nil {
		return nil, invalid("destination", "%v", err)
	}

	var p *posting
	err := e.runUnit(ctx, "transfer", func(tx storages.Tx) error {
		var err error
		p, err = e.planTransfer(ctx, tx, req.FromAccountID, to, req.Amount)
		if err != nil {
			return err
		}
		return e.apply(ctx, tx, p)
	})
	if err != nil {
		e.logger.Errorf("Transfer from account %d to %s failed: %v", req.FromAccountID, pkg.MaskCardNumber(to), err)
		return nil, err
	}

	e.logger.Infof("Transfer #%d completed: %s from %s to %s",
		p.principal.ID, p.sourceCurrency.Format(req.Amount), pkg.MaskCardNumber(p.source.Number), pkg.MaskCardNumber(to))

	e.valueInUSD(p)
	e.published(ctx, p)
	return p.principal, nil
}

func (e *Engine) planTransfer(ctx context.Context, tx storages.Tx, fromID int64, to string, amount decimal.Decimal) (*posting, error) {
	dest, err := findDestination(ctx, tx, to)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		return nil, &NotFoundError{Entity: "destination account", Ref: pkg.MaskCardNumber(to)}
	}
	if dest.ID == fromID {
		return nil, invalid("destination", "cannot transfer to the source account")
	}

	source, dest, err := lockPair(ctx, tx, fromID, dest)
	if err != nil {
		return nil, err
	}

	p := &posting{
		source:         source,
		sourceCurrency: source.Kind.Currency(),
		dest:           dest,
		destCurrency:   dest.Kind.Currency(),
	}

	if err := pkg.ValidatePrecision(amount, p.sourceCurrency.Precision()); err != nil {
		return nil, invalid("amount", "%v", err)
	}

	commission := e.commissionFor(amount, p.sourceCurrency)
	p.debit = amount.Add(commission)
	if err := checkFunds(p); err != nil {
		return nil, err
	}

	var rates storages.RateTriple
	if p.sourceCurrency != p.destCurrency || needsRates(p.sourceCurrency) {
		if rates, err = e.latestRates(); err != nil {
			return nil, err
		}
	}

	if p.credit, err = Convert(amount, p.sourceCurrency, p.destCurrency, rates); err != nil {
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
		Amount:            amount,
		Currency:          p.sourceCurrency,
		ConvertedAmount:   p.credit,
		ConvertedCurrency: p.destCurrency,
		Kind:              storages.TransactionKindTransfer,
		Description: fmt.Sprintf("Transfer %s to %s",
			p.sourceCurrency.Format(amount), pkg.MaskCardNumber(dest.Number)),
	}
	return p, nil
}
