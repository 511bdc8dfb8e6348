package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Step — номер шага формы оформления.
type Step int

const (
	StepContact Step = iota + 1
	StepAddress
	StepPayment
)

// TotalSteps — количество шагов формы.
const TotalSteps = int(StepPayment)

var (
	// ErrInvalidForm — базовая ошибка валидации формы.
	ErrInvalidForm = errors.New("checkout form is invalid")
	// ErrUnknownStep — номер шага вне диапазона 1..3.
	ErrUnknownStep = errors.New("unknown checkout step")
)

func (s Step) String() string {
	switch s {
	case StepContact:
		return "contact"
	case StepAddress:
		return "address"
	case StepPayment:
		return "payment"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Valid проверяет, что шаг существует.
func (s Step) Valid() bool {
	return s >= StepContact && s <= StepPayment
}

// ValidationError перечисляет незаполненные или некорректные поля шага.
type ValidationError struct {
	Step   Step
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkout step %s: invalid fields: %s", e.Step, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidForm
}

// ValidateStep проверяет поля одного шага.
func ValidateStep(form domain.CheckoutForm, step Step) error {
	var fields []string
	required := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			fields = append(fields, name)
		}
	}

	switch step {
	case StepContact:
		required("fullName", form.FullName)
		required("email", form.Email)
		required("phone", form.Phone)
	case StepAddress:
		required("address", form.Address)
		required("provinceName", form.Province)
		required("districtName", form.District)
		required("wardName", form.Ward)
	case StepPayment:
		if !form.PaymentMethod.Valid() {
			fields = append(fields, "paymentMethod")
		}
		if form.BankCode != "" && !form.PaymentMethod.UsesGateway() {
			fields = append(fields, "bankCode")
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownStep, int(step))
	}

	if len(fields) > 0 {
		return &ValidationError{Step: step, Fields: fields}
	}
	return nil
}

// ValidateForm проверяет все шаги по порядку и возвращает первую ошибку.
func ValidateForm(form domain.CheckoutForm) error {
	for step := StepContact; step <= StepPayment; step++ {
		if err := ValidateStep(form, step); err != nil {
			return err
		}
	}
	return nil
}

// Wizard — состояние трёхшаговой формы.
type Wizard struct {
	Step Step
	Form domain.CheckoutForm
}

// NewWizard начинает форму с первого шага.
func NewWizard(form domain.CheckoutForm) *Wizard {
	return &Wizard{Step: StepContact, Form: form}
}

// Next переходит на следующий шаг, если текущий заполнен. На последнем шаге остаётся на месте.
func (w *Wizard) Next() error {
	if err := ValidateStep(w.Form, w.Step); err != nil {
		return err
	}
	if w.Step < StepPayment {
		w.Step++
	}
	return nil
}

// Back возвращает на предыдущий шаг без проверки.
func (w *Wizard) Back() {
	if w.Step > StepContact {
		w.Step--
	}
}

// Completed сообщает, что форма на последнем шаге и полностью заполнена.
func (w *Wizard) Completed() bool {
	return w.Step == StepPayment && ValidateForm(w.Form) == nil
}
