package bridge

import "time"

// markAudioComplete labels the marker queued behind each assistant reply.
// The carrier echoes it back once playback has drained, which is the only
// signal that the caller's line has actually gone quiet.
const markAudioComplete = "audio-complete"

// defaultEchoCooldown is how long caller audio stays gated after playback
// finishes, so the tail of the assistant's own speech does not come back as
// caller input.
const defaultEchoCooldown = 400 * time.Millisecond

// arbiterHooks are the side effects turn arbitration fires into the live
// call. The mediator supplies closures over its session and carrier stream.
type arbiterHooks struct {
	cancelAssistant func()
	clearPlayback   func()
	sendMark        func(name string)
}

// arbiter decides, event by event, who holds the floor: the caller, the
// assistant, or line echo. It is driven solely by the mediator goroutine
// and needs no locking.
//
// The rules, in arrival order:
//   - responseActive follows response.created / response.done.
//   - Caller speech during an active response is a barge-in: cancel the
//     response and flush queued playback. Speech while idle is an ordinary
//     turn.
//   - A fresh audio delta means playback is live again, so any pending
//     echo cooldown is stale and is cancelled.
//   - Response audio finishing emits the playback marker; the cooldown
//     arms only when the carrier reports that marker played, replacing any
//     timer already running.
//   - Caller frames are gated exactly while the cooldown runs. Barge-in
//     handling is never gated.
type arbiter struct {
	cooldown time.Duration
	hooks    arbiterHooks

	responseActive bool
	echoCooldown   bool
	timer          *time.Timer
}

func newArbiter(cooldown time.Duration, hooks arbiterHooks) *arbiter {
	if cooldown <= 0 {
		cooldown = defaultEchoCooldown
	}
	return &arbiter{cooldown: cooldown, hooks: hooks}
}

func (a *arbiter) responseCreated() { a.responseActive = true }

func (a *arbiter) responseDone() { a.responseActive = false }

// speechStarted handles caller speech onset. It reports whether this was a
// barge-in, in which case the assistant has been cancelled and queued
// playback flushed.
func (a *arbiter) speechStarted() bool {
	if !a.responseActive {
		return false
	}
	a.hooks.cancelAssistant()
	a.hooks.clearPlayback()
	return true
}

// audioDelta notes a fresh assistant audio frame. Playback is live again,
// so a pending cooldown no longer marks the end of speech.
func (a *arbiter) audioDelta() {
	a.stopTimer()
	a.echoCooldown = false
}

// audioDone queues the playback marker behind the response audio. The
// cooldown must not start here: the carrier is still playing buffered
// frames.
func (a *arbiter) audioDone() {
	a.hooks.sendMark(markAudioComplete)
}

// markPlayed arms the echo cooldown once the carrier confirms playback
// reached the marker. A newer marker replaces any running timer.
func (a *arbiter) markPlayed(name string) {
	if name != markAudioComplete {
		return
	}
	a.stopTimer()
	a.timer = time.NewTimer(a.cooldown)
	a.echoCooldown = true
}

// cooldownC is the pending cooldown's channel, nil while none is armed so
// the mediator's select case stays dormant.
func (a *arbiter) cooldownC() <-chan time.Time {
	if a.timer == nil {
		return nil
	}
	return a.timer.C
}

// cooldownExpired lifts the gate. Call only after receiving from cooldownC.
func (a *arbiter) cooldownExpired() {
	a.timer = nil
	a.echoCooldown = false
}

// gateCallerAudio reports whether inbound caller frames should be dropped.
func (a *arbiter) gateCallerAudio() bool { return a.echoCooldown }

// stopTimer cancels the pending timer, draining an already-fired tick so it
// cannot end a later cooldown early.
func (a *arbiter) stopTimer() {
	if a.timer == nil {
		return
	}
	if !a.timer.Stop() {
		select {
		case <-a.timer.C:
		default:
		}
	}
	a.timer = nil
}
