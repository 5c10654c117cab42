package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/ilramdhan/sheetcalc/internal/domain/entity"
	"github.com/ilramdhan/sheetcalc/pkg/formula"
)

var abilities = []string{"str", "dex", "con", "int", "wis", "cha"}

var classes = []struct {
	name    string
	hitDie  int64
	primary string
}{
	{"Fighter", 10, "str"},
	{"Rogue", 8, "dex"},
	{"Wizard", 6, "int"},
	{"Cleric", 8, "wis"},
	{"Bard", 8, "cha"},
	{"Barbarian", 12, "con"},
}

func number(key string, v int64) *entity.Field {
	return &entity.Field{Key: key, Label: key, Type: entity.FieldTypeNumber, Value: formula.IntValue(v)}
}

func text(key, v string) *entity.Field {
	return &entity.Field{Key: key, Label: key, Type: entity.FieldTypeText, Value: formula.StringValue(v)}
}

func computed(key string, t entity.FieldType, source string, dialect formula.Dialect) *entity.Field {
	return &entity.Field{Key: key, Label: key, Type: t, Formula: source, Dialect: dialect}
}

// rollAbility sums the best three of four d6
func rollAbility(rng *rand.Rand) int64 {
	var total, lowest int64 = 0, 7
	for i := 0; i < 4; i++ {
		d := int64(rng.Intn(6) + 1)
		total += d
		lowest = min(lowest, d)
	}
	return total - lowest
}

// newCharacter builds a level 1-20 character whose derived stats are formulas
func newCharacter(rng *rand.Rand, idx int) *entity.CharacterSheet {
	class := classes[rng.Intn(len(classes))]
	level := int64(rng.Intn(20) + 1)

	fields := []*entity.Field{
		text("class", class.name),
		number("level", level),
		number("hit_die", class.hitDie),
	}
	for _, a := range abilities {
		fields = append(fields, number(a, rollAbility(rng)))
	}
	for _, a := range abilities {
		fields = append(fields, computed(a+"_mod", entity.FieldTypeNumber, fmt.Sprintf("floor((%s - 10) / 2)", a), formula.DialectNative))
	}
	fields = append(fields,
		computed("prof", entity.FieldTypeNumber, "ceil(level / 4) + 1", formula.DialectNative),
		computed("max_hp", entity.FieldTypeNumber, "hit_die + con_mod + (level - 1) * (floor(hit_die / 2) + 1 + con_mod)", formula.DialectNative),
		computed("ac", entity.FieldTypeNumber, "10 + dex_mod", formula.DialectNative),
		computed("initiative", entity.FieldTypeNumber, "dex_mod", formula.DialectNative),
		computed("attack", entity.FieldTypeNumber, fmt.Sprintf("%s_mod + prof", class.primary), formula.DialectNative),
		computed("save_dc", entity.FieldTypeNumber, fmt.Sprintf("8 + prof + %s_mod", class.primary), formula.DialectNative),
		computed("passive_perception", entity.FieldTypeNumber, "10 + wis_mod", formula.DialectNative),
		computed("carry_capacity", entity.FieldTypeNumber, "str * 15", formula.DialectNative),
		computed("tier", entity.FieldTypeText, `level >= 17 ? "master" : (level >= 11 ? "paragon" : (level >= 5 ? "hero" : "local"))`, formula.DialectExpr),
		computed("title", entity.FieldTypeText, `class + " " + level`, formula.DialectNative),
	)
	for i, f := range fields {
		f.SequenceOrder = i + 1
	}

	now := time.Now()
	return &entity.CharacterSheet{
		ID:        uuid.New(),
		Name:      fmt.Sprintf("Adventurer %06d", idx),
		OwnerName: fmt.Sprintf("player-%03d", idx%250),
		Fields:    fields,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
