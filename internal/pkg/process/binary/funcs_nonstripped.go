// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package binary

import (
	"debug/elf"
	"errors"
	"fmt"
)

func findFunctionsUnstripped(elfF *elf.File, relevantFuncs map[string]struct{}) ([]*Func, error) {
	symbols, err := elfF.Symbols()
	if err != nil {
		return nil, err
	}

	var result []*Func
	for _, f := range symbols {
		if _, exists := relevantFuncs[f.Name]; exists {
			offset, err := getFuncOffsetUnstripped(elfF, f)
			if err != nil {
				return nil, err
			}

			returns, err := findFuncReturnsUnstripped(elfF, f, offset)
			if err != nil {
				return nil, err
			}

			result = append(result, &Func{
				Name:          f.Name,
				Offset:        offset,
				ReturnOffsets: returns,
			})
		}
	}

	return result, nil
}

func getFuncOffsetUnstripped(f *elf.File, symbol elf.Symbol) (uint64, error) {
	var sections []*elf.Section

	for i := range f.Sections {
		if f.Sections[i].Flags == elf.SHF_ALLOC+elf.SHF_EXECINSTR {
			sections = append(sections, f.Sections[i])
		}
	}

	if len(sections) == 0 {
		return 0, fmt.Errorf("function %q: no executable section", symbol.Name)
	}

	var execSection *elf.Section
	for m := range sections {
		sectionStart := sections[m].Addr
		sectionEnd := sectionStart + sections[m].Size
		if symbol.Value >= sectionStart && symbol.Value < sectionEnd {
			execSection = sections[m]
			break
		}
	}

	if execSection == nil {
		return 0, errors.New("could not find symbol in executable sections of binary")
	}

	return symbol.Value - execSection.Addr + execSection.Offset, nil
}

func findFuncReturnsUnstripped(elfFile *elf.File, sym elf.Symbol, functionOffset uint64) ([]uint64, error) {
	textSection := elfFile.Section(".text")
	if textSection == nil {
		return nil, errors.New("could not find .text section in binary")
	}

	lowPC := sym.Value
	highPC := lowPC + sym.Size
	if lowPC < textSection.Addr || highPC > textSection.Addr+textSection.Size {
		return nil, fmt.Errorf("function %q outside of .text", sym.Name)
	}
	buf := make([]byte, highPC-lowPC)

	readBytes, err := textSection.ReadAt(buf, int64(lowPC-textSection.Addr)) // nolint: gosec  // Bounded by .text.
	if err != nil {
		return nil, fmt.Errorf("could not read text section: %w", err)
	}
	data := buf[:readBytes]
	instructionIndices, err := findRetInstructions(data)
	if err != nil {
		return nil, fmt.Errorf("error while scanning instructions: %w", err)
	}

	newLocations := make([]uint64, len(instructionIndices))
	for i, instructionIndex := range instructionIndices {
		newLocations[i] = instructionIndex + functionOffset
	}

	return newLocations, nil
}
