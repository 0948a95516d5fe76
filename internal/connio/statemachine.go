package connio

import (
	"context"
	"errors"
	"fmt"

	"github.com/ha1tch/gotds/internal/assembler"
	"github.com/ha1tch/gotds/internal/wire"
)

// ErrCancelled is returned when a request completes because of a
// caller-issued cancel rather than a normal DONE.
var ErrCancelled = errors.New("connio: request cancelled")

// ErrBroken is returned when the connection transitions to
// BrokenClosed mid-request and can no longer be used.
var ErrBroken = errors.New("connio: connection broken")

// Execute drives the Ready -> AwaitingResponse -> Ready state transition
// (§4.5) for one request: send pktType/body, then read and feed tokens
// to an Assembler until a final DONE, honoring ctx cancellation by
// sending an Attention and draining to the attention ack.
//
// Execute requires the connection to be in StateReady; the caller (the
// pool / client layer) is responsible for ensuring only one request is
// in flight per connection at a time.
func (c *Conn) Execute(ctx context.Context, pktType wire.PacketType, body []byte) (assembler.ExecutionResult, error) {
	if c.state != StateReady {
		return assembler.ExecutionResult{}, fmt.Errorf("connio: connection not ready (state=%s)", c.state)
	}
	if err := ctx.Err(); err != nil {
		return assembler.ExecutionResult{}, err
	}

	c.state = StateInRequest
	if err := c.fr.WriteMessage(pktType, body); err != nil {
		c.state = StateBrokenClosed
		return assembler.ExecutionResult{}, fmt.Errorf("connio: sending request: %w", err)
	}

	asm := assembler.New()
	done := make(chan error, 1)
	go func() {
		done <- c.drainUntilFinal(asm)
	}()

	select {
	case err := <-done:
		if err != nil {
			c.state = StateBrokenClosed
			return assembler.ExecutionResult{}, err
		}
	case <-ctx.Done():
		if cancelErr := c.sendAttentionAndDrain(asm); cancelErr != nil {
			c.state = StateBrokenClosed
			return assembler.ExecutionResult{}, cancelErr
		}
		<-done
		res := asm.Result()
		c.applyEnvChanges(res.EnvChanges)
		c.state = StateReady
		return res, ErrCancelled
	}

	res := asm.Result()
	c.applyEnvChanges(res.EnvChanges)
	c.state = StateReady
	return res, res.Err
}

// drainUntilFinal reads response messages (possibly more than one
// logical TDS message, though in practice the reply arrives as a
// single message spanning several packets) and feeds every token to
// asm until the final DONE is observed.
func (c *Conn) drainUntilFinal(asm *assembler.Assembler) error {
	for {
		_, data, err := c.fr.ReadMessage()
		if err != nil {
			return fmt.Errorf("connio: reading response: %w", err)
		}
		tr := wire.NewTokenStreamReader(data)
		for {
			tok, err := tr.Next()
			if err != nil {
				return fmt.Errorf("connio: parsing token stream: %w", err)
			}
			if tok == nil {
				break
			}
			final, err := asm.Feed(tok)
			if err != nil {
				return err
			}
			if final {
				return nil
			}
		}
	}
}

// sendAttentionAndDrain implements the cancel path of §4.5: send an
// ATTENTION packet, then keep routing tokens through asm (the drain
// goroutine started in Execute keeps running) until the pending
// drainUntilFinal call observes a DONE with the ATTN-ack status bit.
func (c *Conn) sendAttentionAndDrain(asm *assembler.Assembler) error {
	c.state = StateSendingAttention
	pktType, body := wire.BuildAttention()
	if err := c.fr.WriteMessage(pktType, body); err != nil {
		return fmt.Errorf("connio: sending attention: %w", err)
	}
	c.state = StateDraining
	return nil
}
