package core

import "errors"

var (
	// ErrInvalidBid is returned when a bid does not exceed the current minimum.
	ErrInvalidBid = errors.New("bid must exceed the current minimum bid")
	// ErrDuplicateBidder is returned when the current leader bids again.
	ErrDuplicateBidder = errors.New("bidder already holds the leading bid")
	// ErrAuctionClosed is returned for bids submitted after settlement.
	ErrAuctionClosed = errors.New("auction has ended")
	// ErrUnauthorized is returned when anyone but the beneficiary tries to settle.
	ErrUnauthorized = errors.New("only the beneficiary may settle the auction")
	// ErrAlreadySettled is returned when settlement is attempted a second time.
	ErrAlreadySettled = errors.New("auction already settled")
	// ErrTransferFailure is returned when a fund or asset transfer could not complete.
	ErrTransferFailure = errors.New("transfer failed")
	// ErrBeneficiaryBid is returned when the beneficiary bids on its own auction.
	ErrBeneficiaryBid = errors.New("beneficiary may not bid on its own auction")
	// ErrReentrantCall is returned for a Bid or Settle made while another is in progress.
	ErrReentrantCall = errors.New("auction operation already in progress")
	// ErrInvalidConfig is returned by New for an unusable configuration.
	ErrInvalidConfig = errors.New("invalid auction configuration")
)
