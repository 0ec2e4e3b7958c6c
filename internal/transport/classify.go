package transport

import (
	"errors"

	appErrors "github.com/bulkmailer/campaign-engine/internal/errors"
	"github.com/bulkmailer/campaign-engine/internal/model"
)

// Classify maps a send error onto exactly one delivery outcome. A nil
// error is sent. Codes follow RFC 5321 reply semantics: transient 4xx
// replies are bounces, permanent mailbox refusals are rejections,
// malformed addresses are invalid, and policy blocks are blacklisted.
func Classify(err error) model.DeliveryStatus {
	if err == nil {
		return model.DeliverySent
	}

	var te *appErrors.TransportError
	if !errors.As(err, &te) {
		return model.DeliveryFailed
	}

	switch te.Code {
	case 421, 450, 451, 452:
		return model.DeliveryBounced
	case 550, 551, 552:
		return model.DeliveryRejected
	case 501, 553:
		return model.DeliveryInvalid
	case 554:
		return model.DeliveryBlacklisted
	default:
		return model.DeliveryFailed
	}
}
