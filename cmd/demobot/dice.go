package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keshon/botkit"
	"github.com/keshon/botkit/discord"
)

var (
	tokenPattern = regexp.MustCompile(`(?i)(\d*d\d+|\d+|[+\-*/])`)
	dicePattern  = regexp.MustCompile(`(?i)^(\d*)d(\d+)$`)
)

// dicePlugin ships one overloaded roll command: bare rolls, a count/sides
// pair and full dice math resolve to different handlers by argument shape.
type dicePlugin struct {
	log zerolog.Logger
}

func newDicePlugin(log zerolog.Logger) *dicePlugin {
	return &dicePlugin{log: log}
}

func (p *dicePlugin) Name() string    { return "dice" }
func (p *dicePlugin) Version() string { return "1.0.0" }

func (p *dicePlugin) OnLoad(_ context.Context, r *botkit.PluginRegistrar) error {
	r.SubscribeOnce(discord.EventReady, func(context.Context, *botkit.Context, ...any) error {
		p.log.Info().Msg("dice plugin sees the gateway")
		return nil
	})

	return r.Register(&botkit.Command{
		Name:        "roll",
		Description: "Roll dice like 2d20+1d6-2",
		Usage:       "roll [formula | count sides]",
		Aliases:     []string{"r"},
		Slash:       true,
		Options: []botkit.OptionSpec{
			{Name: "formula", Description: "Dice math such as 2d6+1d4*2-3", Kind: botkit.OptionString},
		},
		Overload: true,
		Patterns: []botkit.Pattern{
			{Match: func(args []any) bool { return len(args) == 0 }, Run: p.rollDefault},
			{Match: isCountSidesPair, Run: p.rollPair},
			{Match: func(args []any) bool { return len(args) > 0 }, Run: p.rollFormula},
		},
	})
}

func (p *dicePlugin) rollDefault(ctx context.Context, inv *botkit.Context) error {
	total, detail, err := rollDice(1, 20)
	if err != nil {
		return err
	}
	return inv.Reply(ctx, fmt.Sprintf("1d20 %s = %d", detail, total))
}

func (p *dicePlugin) rollPair(ctx context.Context, inv *botkit.Context) error {
	count, _ := argInt(inv.Args[0])
	sides, _ := argInt(inv.Args[1])
	total, detail, err := rollDice(count, sides)
	if err != nil {
		return inv.ReplyEphemeral(ctx, err.Error())
	}
	return inv.Reply(ctx, fmt.Sprintf("%dd%d %s = %d", count, sides, detail, total))
}

func (p *dicePlugin) rollFormula(ctx context.Context, inv *botkit.Context) error {
	formula, ok := inv.StringOption("formula")
	if !ok {
		parts := make([]string, 0, len(inv.Args))
		for _, a := range inv.Args {
			parts = append(parts, fmt.Sprint(a))
		}
		formula = strings.Join(parts, "")
	}
	formula = strings.ReplaceAll(formula, " ", "")

	total, detail, err := evalFormula(formula)
	if err != nil {
		return inv.ReplyEphemeral(ctx, fmt.Sprintf("Can't roll %q: %v. Try something like 2d6+1d4*2-3.", formula, err))
	}
	return inv.Reply(ctx, fmt.Sprintf("%s: %s = %d", formula, detail, total))
}

// isCountSidesPair matches exactly two whole-number arguments.
func isCountSidesPair(args []any) bool {
	if len(args) != 2 {
		return false
	}
	_, ok0 := argInt(args[0])
	_, ok1 := argInt(args[1])
	return ok0 && ok1
}

// argInt reads an argument as an int: text triggers carry string tokens,
// interactive number options arrive as float64.
func argInt(arg any) (int, bool) {
	switch v := arg.(type) {
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	case float64:
		return int(v), v == float64(int(v))
	}
	return 0, false
}

// rollTerm is one evaluated token with the operator that joins it to the
// running total.
type rollTerm struct {
	op     string
	value  int
	detail string
}

// evalFormula evaluates dice math such as "2d6+1d4*2-3". Multiplication and
// division bind to the preceding term; everything else sums left to right.
func evalFormula(formula string) (int, string, error) {
	tokens := tokenPattern.FindAllString(formula, -1)
	if len(tokens) == 0 {
		return 0, "", errors.New("no dice or numbers found")
	}

	terms := make([]rollTerm, 0, len(tokens))
	op := "+"
	for _, tok := range tokens {
		switch tok {
		case "+", "-", "*", "/":
			op = tok
			continue
		}
		value, detail, err := evalToken(tok)
		if err != nil {
			return 0, "", err
		}
		terms = append(terms, rollTerm{op: op, value: value, detail: detail})
	}

	merged := make([]rollTerm, 0, len(terms))
	for _, t := range terms {
		if t.op != "*" && t.op != "/" {
			merged = append(merged, t)
			continue
		}
		if len(merged) == 0 {
			return 0, "", errors.New("nothing to multiply or divide")
		}
		prev := merged[len(merged)-1]
		if t.op == "/" {
			if t.value == 0 {
				return 0, "", errors.New("division by zero")
			}
			prev.value /= t.value
		} else {
			prev.value *= t.value
		}
		prev.detail += " " + t.op + " " + t.detail
		merged[len(merged)-1] = prev
	}

	total := 0
	parts := make([]string, 0, len(merged)*2)
	for i, t := range merged {
		switch t.op {
		case "+":
			total += t.value
		case "-":
			total -= t.value
		}
		if i > 0 {
			parts = append(parts, t.op)
		}
		parts = append(parts, t.detail)
	}
	return total, strings.Join(parts, " "), nil
}

func evalToken(tok string) (int, string, error) {
	m := dicePattern.FindStringSubmatch(tok)
	if m == nil {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return 0, "", fmt.Errorf("bad token %q", tok)
		}
		return n, strconv.Itoa(n), nil
	}

	count := 1
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, "", fmt.Errorf("bad dice count in %q", tok)
		}
		count = n
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, "", fmt.Errorf("bad dice sides in %q", tok)
	}
	return rollDice(count, sides)
}

func rollDice(count, sides int) (int, string, error) {
	if count < 1 || count > 100 {
		return 0, "", errors.New("dice count must be between 1 and 100")
	}
	if sides < 2 || sides > 1000 {
		return 0, "", errors.New("dice need between 2 and 1000 sides")
	}

	total := 0
	rolls := make([]string, count)
	for i := range rolls {
		r := rand.Intn(sides) + 1
		total += r
		rolls[i] = strconv.Itoa(r)
	}
	return total, "[" + strings.Join(rolls, " ") + "]", nil
}
