package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAlertKey(t *testing.T) {
	print := Alert{
		Kind: AlertPrint,
		Event: EnrichedEvent{RawEvent: RawEvent{
			Symbol:     "AAPL",
			ContractID: "AAPL240119C00190000",
		}},
	}
	assert.Equal(t, "print:AAPL:call:190.000:240119", print.Key())

	// Unparseable contract ids still get a stable key.
	garbled := Alert{
		Kind:  AlertPrint,
		Event: EnrichedEvent{RawEvent: RawEvent{Symbol: "AAPL", ContractID: "bogus"}},
	}
	assert.Equal(t, "print:AAPL:bogus", garbled.Key())

	roll := Alert{
		Kind: AlertRoll,
		Roll: &RollMatch{
			Symbol:     "TSLA",
			Side:       SideCall,
			SellExpiry: time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC),
			BuyExpiry:  time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC),
		},
	}
	assert.Equal(t, "roll:TSLA:call:240119:240216", roll.Key())
	assert.Equal(t, roll.Roll.CooldownKey(), roll.Key())
}
