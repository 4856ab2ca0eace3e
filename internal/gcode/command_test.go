package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineCommandTrimsAndEncodesWithNewline(t *testing.T) {
	c := NewLineCommand("  G28 X Y  ")
	assert.Equal(t, "G28 X Y", c.Instruction())
	assert.Equal(t, []byte("G28 X Y\n"), c.EncodedInstruction())
}

func TestLineCommandConsumesBusyWithoutCompleting(t *testing.T) {
	c := NewLineCommand("G28")

	assert.True(t, c.OnResponse("echo:busy processing"))
	assert.True(t, c.Received())
	assert.False(t, c.Completed())

	assert.True(t, c.OnResponse("ok"))
	assert.True(t, c.Completed())
	assert.Empty(t, c.ResponseError())
}

func TestLineCommandCompletesOnErrorAndRecordsIt(t *testing.T) {
	c := NewLineCommand("G1 X10")
	assert.True(t, c.OnResponse("Error:checksum mismatch"))
	assert.True(t, c.Completed())
	assert.Equal(t, "Error:checksum mismatch", c.ResponseError())

	c = NewLineCommand("G1 X10")
	assert.True(t, c.OnResponse("!! printer halted"))
	assert.True(t, c.Completed())
	assert.Equal(t, "!! printer halted", c.ResponseError())
}

func TestStatusCommandRetainsReportAndCompletesOnOk(t *testing.T) {
	c := NewStatusCommand()
	assert.Equal(t, StatusInstruction, c.Instruction())
	assert.Equal(t, []byte("M105\n"), c.EncodedInstruction())

	// Unrelated chatter is left for other pending commands.
	assert.False(t, c.OnResponse("echo:busy processing"))
	assert.False(t, c.Completed())

	assert.True(t, c.OnResponse("T:199.2 /200.0 B:59.8"))
	assert.False(t, c.Completed())
	assert.Equal(t, "T:199.2 /200.0 B:59.8", c.Report())

	assert.True(t, c.OnResponse("ok T:200.1 /200.0 B:60.0"))
	assert.True(t, c.Completed())
	assert.Equal(t, "ok T:200.1 /200.0 B:60.0", c.Report())
}

func TestCleanLineStripsCommentsAndWhitespace(t *testing.T) {
	assert.Equal(t, "G1 X10", CleanLine("G1 X10 ; move right"))
	assert.Equal(t, "", CleanLine("; comment only"))
	assert.Equal(t, "", CleanLine("   "))
	assert.Equal(t, "M104 S200", CleanLine("M104 S200"))
}
