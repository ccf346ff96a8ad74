package e2e

import (
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// E2ETestSuite drives the running server through a real browser.
type E2ETestSuite struct {
	suite.Suite
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	expect  playwright.PlaywrightAssertions
}

func (suite *E2ETestSuite) SetupSuite() {
	pw, err := playwright.Run()
	require.NoError(suite.T(), err, "could not launch playwright")
	suite.pw = pw

	browser, err := pw.Chromium.Launch()
	require.NoError(suite.T(), err, "could not launch chromium")
	suite.browser = browser

	suite.expect = playwright.NewPlaywrightAssertions()
}

func (suite *E2ETestSuite) TearDownSuite() {
	if suite.browser != nil {
		suite.browser.Close()
	}
	if suite.pw != nil {
		suite.pw.Stop()
	}
}

func (suite *E2ETestSuite) SetupTest() {
	page, err := suite.browser.NewPage()
	require.NoError(suite.T(), err, "could not create page")
	suite.page = page

	_, err = suite.page.Goto(appURL)
	require.NoError(suite.T(), err, "could not navigate to app")
}

func (suite *E2ETestSuite) TearDownTest() {
	if suite.page != nil {
		suite.page.Close()
	}
}

func (suite *E2ETestSuite) login() {
	err := suite.expect.Locator(suite.page.Locator(".login")).ToBeVisible()
	require.NoError(suite.T(), err, "login form not visible")

	err = suite.page.Locator("input[name=email]").Fill("test@example.com")
	require.NoError(suite.T(), err, "failed to fill email")

	err = suite.page.Locator("input[name=password]").Fill("testpass123")
	require.NoError(suite.T(), err, "failed to fill password")

	err = suite.page.Locator(".login button[type=submit]").Click()
	require.NoError(suite.T(), err, "failed to click login")

	err = suite.expect.Locator(suite.page.Locator(".month-header")).ToBeVisible()
	require.NoError(suite.T(), err, "did not land on the dashboard after login")
}

func (suite *E2ETestSuite) TestCompleteUserFlow() {
	suite.login()

	// Dashboard shows the three summary cards.
	err := suite.expect.Locator(suite.page.Locator(".summary .card")).ToHaveCount(3)
	require.NoError(suite.T(), err, "summary cards missing")

	// Open the creation form.
	err = suite.page.Locator("a[href='/transactions/create']").Click()
	require.NoError(suite.T(), err, "failed to open creation form")

	err = suite.expect.Locator(suite.page.Locator(".form form")).ToBeVisible()
	require.NoError(suite.T(), err, "transaction form not visible")

	// Record an expense.
	err = suite.page.Locator("input[name=amount]").Fill("1250")
	require.NoError(suite.T(), err, "failed to fill amount")

	err = suite.page.Locator("textarea[name=description]").Fill("ランチ代")
	require.NoError(suite.T(), err, "failed to fill description")

	_, err = suite.page.Locator("select[name=category_id]").SelectOption(playwright.SelectOptionValues{
		Labels: &[]string{"[支出] 食費"},
	})
	require.NoError(suite.T(), err, "failed to select category")

	err = suite.page.Locator(".form-actions button[type=submit]").Click()
	require.NoError(suite.T(), err, "failed to submit transaction")

	// Back on the dashboard with the new row listed.
	err = suite.expect.Locator(suite.page.Locator(".transactions tbody tr")).ToHaveCount(1)
	require.NoError(suite.T(), err, "transaction row count mismatch")

	row := suite.page.Locator(".transactions tbody tr").First()
	err = suite.expect.Locator(row).ToContainText("ランチ代")
	require.NoError(suite.T(), err, "description mismatch")

	err = suite.expect.Locator(row).ToContainText("¥1,250")
	require.NoError(suite.T(), err, "amount mismatch")

	// The expense shows up in the category breakdown too.
	err = suite.expect.Locator(suite.page.Locator(".breakdown li").First()).ToContainText("食費")
	require.NoError(suite.T(), err, "breakdown mismatch")
}

func (suite *E2ETestSuite) TestValidationErrorKeepsInput() {
	suite.login()

	_, err := suite.page.Goto(appURL + "/transactions/create")
	require.NoError(suite.T(), err)

	// Submit without an amount.
	err = suite.page.Locator("textarea[name=description]").Fill("金額なし")
	require.NoError(suite.T(), err)

	err = suite.page.Locator(".form-actions button[type=submit]").Click()
	require.NoError(suite.T(), err)

	err = suite.expect.Locator(suite.page.Locator(".field-error").First()).ToBeVisible()
	require.NoError(suite.T(), err, "validation message not shown")

	err = suite.expect.Locator(suite.page.Locator("textarea[name=description]")).ToHaveValue("金額なし")
	require.NoError(suite.T(), err, "submitted input must be preserved")
}

func TestE2ESuite(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}
