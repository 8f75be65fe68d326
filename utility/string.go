package utility

import (
	"strconv"

	"github.com/google/uuid"
)

// WhToKwh converts a meter reading in Wh to a string like 1234 to 1.2
func WhToKwh(i int) string {
	if i < 100 {
		return "0.0"
	}
	firstPart := i / 1000
	secondPart := (i % 1000) / 100
	return strconv.Itoa(firstPart) + "." + strconv.Itoa(secondPart)
}

// FormatPrice renders an amount with two decimals, 102.3456 to 102.35
func FormatPrice(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func NewUUID() string {
	return uuid.New().String()
}
