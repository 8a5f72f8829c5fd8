// Package formula parses and evaluates the arithmetic formulas that define
// derived indicators. A formula is either a plain expression over data type
// codes and numeric literals (A+B*2, (A-B)/C) or an aggregate of the form
// sum(A, B, C) / avg(A, B, C).
//
// The package is pure: it never touches storage. Callers resolve operand codes
// to raw stored strings and hand them to Evaluate.
package formula
