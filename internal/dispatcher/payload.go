package dispatcher

import (
	"fmt"

	"github.com/shopspring/decimal"

	"pricewatch/internal/models"
)

const iconURL = "https://assets.coincap.io/assets/icons/%s@2x.png"

// BuildPayload renders the notification for a fired alert
func BuildPayload(ev *models.TriggerEvent) models.Payload {
	target := decimal.NewFromFloat(ev.TargetPrice)
	observed := decimal.NewFromFloat(ev.ObservedPrice)

	return models.Payload{
		Title: fmt.Sprintf("%s Price Alert!", ev.Symbol),
		Body: fmt.Sprintf("Price crossed your target of $%s. Current price: $%s",
			target.String(), observed.StringFixed(2)),
		Icon: fmt.Sprintf(iconURL, models.BaseAsset(ev.Symbol)),
	}
}
