package ledger

import (
	"context"
	"fmt"
	"strings"

	"card-ledger/internal/storages"
	"card-ledger/pkg"
	"github.com/shopspring/decimal"
)

// CryptoTransferRequest перевод криптоактива на внутреннюю карту, адрес карты
// или внешний кошелек
type CryptoTransferRequest struct {
	FromAccountID int64
	To            string
	Amount        decimal.Decimal
	Asset         storages.Currency
}

// TransferCrypto переводит криптоактив. С крипто-карты сумма списывается в BTC,
// с фиатной карты сумма переводится в BTC через доллар. Если получатель не найден
// среди карт, адрес проверяется по формату актива и перевод записывается как
// внешний.
func (e *Engine) TransferCrypto(ctx context.Context, req CryptoTransferRequest) (*storages.Transaction, error) {
	if err := pkg.ValidateAmount(req.Amount); err != nil {
		return nil, invalid("amount", "%v", err)
	}
	if !req.Asset.IsCrypto() {
		return nil, invalid("asset", "unsupported crypto asset %q", req.Asset)
	}
	ref := strings.TrimSpace(req.To)
	if ref == "" {
		return nil, invalid("destination", "recipient is required")
	}
	if number := pkg.NormalizeCardNumber(ref); pkg.ValidateCardNumber(number) == nil {
		ref = number
	}

	var p *posting
	err := e.runUnit(ctx, "crypto transfer", func(tx storages.Tx) error {
		var err error
		p, err = e.planCryptoTransfer(ctx, tx, req, ref)
		if err != nil {
			return err
		}
		return e.apply(ctx, tx, p)
	})
	if err != nil {
		e.logger.Errorf("Crypto transfer from account %d to %s failed: %v", req.FromAccountID, ref, err)
		return nil, err
	}

	e.logger.Infof("Crypto transfer #%d completed: %s from %s to %s",
		p.principal.ID, p.sourceCurrency.Format(req.Amount), pkg.MaskCardNumber(p.source.Number), p.principal.ToNumber)

	e.valueInUSD(p)
	e.published(ctx, p)
	return p.principal, nil
}

func (e *Engine) planCryptoTransfer(ctx context.Context, tx storages.Tx, req CryptoTransferRequest, ref string) (*posting, error) {
	dest, err := findDestination(ctx, tx, ref)
	if err != nil {
		return nil, err
	}

	var wallet string
	switch {
	case dest == nil:
		if !pkg.ValidateCryptoAddress(ref, string(req.Asset)) {
			return nil, fmt.Errorf("%w: %q is not a valid %s address", ErrInvalidAddress, ref, req.Asset)
		}
		wallet = ref
	case !dest.IsCrypto():
		return nil, invalid("destination", "account %s is not a crypto account", pkg.MaskCardNumber(dest.Number))
	case dest.ID == req.FromAccountID:
		return nil, invalid("destination", "cannot transfer to the source account")
	}

	source, dest, err := lockPair(ctx, tx, req.FromAccountID, dest)
	if err != nil {
		return nil, err
	}

	p := &posting{
		source:         source,
		sourceCurrency: source.Kind.Currency(),
		dest:           dest,
		destCurrency:   req.Asset,
	}

	if err := pkg.ValidatePrecision(req.Amount, p.sourceCurrency.Precision()); err != nil {
		return nil, invalid("amount", "%v", err)
	}

	var rates storages.RateTriple
	if needsRates(p.sourceCurrency) || req.Asset != storages.CurrencyBTC {
		if rates, err = e.latestRates(); err != nil {
			return nil, err
		}
	}

	commission := e.commissionFor(req.Amount, p.sourceCurrency)
	p.debit = req.Amount.Add(commission)
	if err := checkFunds(p); err != nil {
		return nil, err
	}

	btcAmount := btcValue(req.Amount, p.sourceCurrency, rates)
	p.credit = btcAmount
	if req.Asset == storages.CurrencyETH {
		p.credit = storages.CurrencyETH.Round(btcAmount.Mul(rates.BTCToUSD).Div(rates.ETHToUSD))
	}
	p.regulatorCredit = btcValue(commission, p.sourceCurrency, rates)

	if p.regulator, err = lockRegulator(ctx, tx); err != nil {
		return nil, err
	}

	p.principal = &storages.Transaction{
		FromAccountID:     source.ID,
		FromNumber:        source.Number,
		Amount:            req.Amount,
		Currency:          p.sourceCurrency,
		ConvertedAmount:   p.credit,
		ConvertedCurrency: req.Asset,
		Kind:              storages.TransactionKindCryptoTransfer,
		Wallet:            wallet,
	}
	if dest != nil {
		destID := dest.ID
		p.principal.ToAccountID = &destID
		p.principal.ToNumber = dest.Number
		p.principal.Description = fmt.Sprintf("Crypto transfer %s to card %s",
			req.Asset.Format(p.credit), pkg.MaskCardNumber(dest.Number))
	} else {
		p.principal.ToNumber = wallet
		p.principal.Description = fmt.Sprintf("Crypto transfer %s to external wallet %s",
			req.Asset.Format(p.credit), wallet)
	}
	return p, nil
}
