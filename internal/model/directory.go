package model

// Borrower is the read model of a library patron as exposed by the user
// profile service. LoanLimit of zero means "use the default limit".
type Borrower struct {
	ID        BorrowerID `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Email     string     `json:"email" db:"email"`
	LoanLimit int        `json:"loanLimit" db:"loan_limit"`
}

// Title is the read model of a catalog record.
type Title struct {
	ID     TitleID `json:"id" db:"id"`
	Name   string  `json:"name" db:"name"`
	Author string  `json:"author" db:"author"`
}
