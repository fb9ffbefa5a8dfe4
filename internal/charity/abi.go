package charity

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// fundABIJSON is the subset of the CharityFund interface this module uses.
// THRESHOLD is the pre-cap accessor kept for older deployments.
const fundABIJSON = `[
 {"type":"function","name":"safe","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"capAmountForAutoTransfering","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"THRESHOLD","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getTotalReceive","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getTotalTransfer","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"isAboveThreshold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"manualTransferToSafe","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"updateSafe","stateMutability":"nonpayable","inputs":[{"name":"_newSafeAddress","type":"address"}],"outputs":[]},
 {"type":"event","name":"donationReceived","anonymous":false,"inputs":[
  {"name":"donor","type":"address","indexed":true},
  {"name":"amount","type":"uint256","indexed":false},
  {"name":"balance","type":"uint256","indexed":false},
  {"name":"timestamp","type":"uint256","indexed":false}]},
 {"type":"event","name":"donationFallback","anonymous":false,"inputs":[
  {"name":"donor","type":"address","indexed":true},
  {"name":"amount","type":"uint256","indexed":false},
  {"name":"balance","type":"uint256","indexed":false},
  {"name":"timestamp","type":"uint256","indexed":false}]},
 {"type":"event","name":"autoTransfer","anonymous":false,"inputs":[
  {"name":"amount","type":"uint256","indexed":false},
  {"name":"to","type":"address","indexed":true},
  {"name":"timestamp","type":"uint256","indexed":false}]},
 {"type":"event","name":"manualTransfer","anonymous":false,"inputs":[
  {"name":"amount","type":"uint256","indexed":false},
  {"name":"by","type":"address","indexed":true},
  {"name":"timestamp","type":"uint256","indexed":false}]},
 {"type":"event","name":"SafeUpdated","anonymous":false,"inputs":[
  {"name":"oldSafe","type":"address","indexed":true},
  {"name":"newSafe","type":"address","indexed":true},
  {"name":"timestamp","type":"uint256","indexed":false}]}
]`

// Event names as declared by the contract.
const (
	EventDonationReceived = "donationReceived"
	EventDonationFallback = "donationFallback"
	EventAutoTransfer     = "autoTransfer"
	EventManualTransfer   = "manualTransfer"
	EventSafeUpdated      = "SafeUpdated"
)

// ABI is the parsed contract interface.
var ABI = mustParseABI(fundABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("charity: bad ABI: " + err.Error())
	}
	return parsed
}

// EventID returns topic0 of the named event.
func EventID(name string) common.Hash {
	return ABI.Events[name].ID
}

// DonationTopics are the topic0 values of both donation events.
func DonationTopics() []common.Hash {
	return []common.Hash{EventID(EventDonationReceived), EventID(EventDonationFallback)}
}

// TransferTopics are the topic0 values of both transfer events.
func TransferTopics() []common.Hash {
	return []common.Hash{EventID(EventAutoTransfer), EventID(EventManualTransfer)}
}

// AllTopics are the topic0 values of every event the synchronizer listens to.
func AllTopics() []common.Hash {
	out := append(DonationTopics(), TransferTopics()...)
	return append(out, EventID(EventSafeUpdated))
}
