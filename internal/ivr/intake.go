package ivr

import (
	"context"
	"errors"
)

// Template keys used by the intake flow.
const (
	KeyIntakeWelcome   = "INTAKE.WELCOME"
	KeyIntakeAccount   = "INTAKE.ASK_ACCOUNT"
	KeyIntakeMenu      = "INTAKE.MENU"
	KeyIntakeConfirm   = "INTAKE.CONFIRM"
	KeyIntakeConfirmed = "INTAKE.CONFIRMED"
	KeyIntakeCancelled = "INTAKE.CANCELLED"
	KeyIntakeNoChoice  = "INTAKE.NO_SELECTION"
)

// IntakeMenu is the department menu offered by the intake flow.
var IntakeMenu = []MenuOption{
	{Key: "1", Name: "Sales"},
	{Key: "2", Name: "Support"},
	{Key: "3", Name: "Billing"},
}

// IntakeHandler greets the caller, collects an account number, offers the
// department menu and confirms the choice before hanging up.
type IntakeHandler struct {
	*Base
}

func NewIntakeHandler(d Deps, ch Channel) Handler {
	return &IntakeHandler{Base: NewBase(d, ch)}
}

func (h *IntakeHandler) ProcessCall(ctx context.Context) error {
	owner, err := h.UserByOriginatingNumber(ctx)
	if err != nil {
		if errors.Is(err, ErrUserNotResolved) {
			return nil
		}
		return err
	}

	if err := h.SendMessageByKey(ctx, KeyIntakeWelcome, map[string]any{"company": owner.Name}); err != nil {
		return err
	}

	account, err := h.AskForInputByKey(ctx, KeyIntakeAccount, nil, ReadOptions{MaxDigits: 8, FinishOnKey: "#"})
	if err != nil {
		return err
	}

	dept, ok, err := h.AskForMenu(ctx, KeyIntakeMenu, IntakeMenu)
	if err != nil {
		return err
	}
	if !ok {
		return h.HangupWithMessageByKey(ctx, KeyIntakeNoChoice, nil)
	}

	values := map[string]any{"account": account, "department": dept.Name}
	confirmed, err := h.AskConfirmation(ctx, KeyIntakeConfirm, values, ConfirmOptions{})
	if errors.Is(err, ErrNoConfirmation) {
		return h.HangupWithMessageByKey(ctx, KeyIntakeNoChoice, nil)
	}
	if err != nil {
		return err
	}
	if !confirmed {
		return h.HangupWithMessageByKey(ctx, KeyIntakeCancelled, values)
	}
	return h.HangupWithMessageByKey(ctx, KeyIntakeConfirmed, values)
}
