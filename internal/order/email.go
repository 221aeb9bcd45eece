package order

import "github.com/Pritam499/e-commerce-sub001/internal/notify"

func notifyConfirmation(o Order, email string, orderNumber int) notify.ConfirmationEmail {
	count := 0
	for _, item := range o.Items {
		count += item.Quantity
	}
	return notify.ConfirmationEmail{
		OrderID:     o.ID.String(),
		Email:       email,
		OrderNumber: orderNumber,
		TotalCents:  o.TotalCents,
		ItemCount:   count,
	}
}

func recoveryEmail(cart Cart, email string) notify.RecoveryEmail {
	count := 0
	for _, item := range cart.Items {
		count += item.Quantity
	}
	return notify.RecoveryEmail{
		CartID:    cart.ID.String(),
		Email:     email,
		ItemCount: count,
	}
}
