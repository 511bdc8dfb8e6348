package vnpay

import (
	"strconv"
	"strings"
)

// amountFactor — VNPay принимает и возвращает сумму в сотых долях донга.
const amountFactor = 100

// ToGatewayAmount переводит сумму в VND в единицы шлюза.
func ToGatewayAmount(amount int64) int64 {
	return amount * amountFactor
}

// FromGatewayAmount разбирает vnp_Amount и возвращает сумму в VND и исходное значение.
// Нечисловое значение и значение с дробной частью донга дают 0: такая сумма не пройдёт сверку с черновиком.
func FromGatewayAmount(raw string) (amount int64, gatewayAmount int64) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v < 0 {
		return 0, 0
	}
	if v%amountFactor != 0 {
		return 0, v
	}
	return v / amountFactor, v
}
